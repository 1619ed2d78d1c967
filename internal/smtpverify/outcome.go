package smtpverify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// FailureKind tags a probe that produced no verdict.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureAuth       FailureKind = "smtp_auth_error"
	FailureTimeout    FailureKind = "smtp_timeout"
	FailureConnection FailureKind = "smtp_connection_error"
	FailureProtocol   FailureKind = "smtp_protocol_error"
)

var ErrNoActiveEndpoints = errors.New("no active smtp endpoints")

// Outcome is the result of one RCPT probe. When Failure is set, Valid and
// Code carry no verdict.
type Outcome struct {
	Valid   bool
	Code    int
	Detail  string
	Failure FailureKind
}

func (o Outcome) Failed() bool {
	return o.Failure != FailureNone
}

// ProbeError is a transport or session failure with its tag.
type ProbeError struct {
	Kind FailureKind
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// InterpretCode maps an RCPT reply code to a verdict. 4xx deferrals are
// greylisting and count as valid.
func InterpretCode(code int) Outcome {
	switch code {
	case 250:
		return Outcome{Valid: true, Code: code, Detail: "Mailbox accepted"}
	case 550, 551, 553:
		return Outcome{Valid: false, Code: code, Detail: "Mailbox rejected"}
	case 450, 451, 452:
		return Outcome{Valid: true, Code: code, Detail: "Temporarily deferred (greylisting)"}
	default:
		return Outcome{Valid: false, Code: code, Detail: fmt.Sprintf("Unexpected SMTP response %d", code)}
	}
}

func failure(kind FailureKind, err error) Outcome {
	return Outcome{Failure: kind, Detail: err.Error()}
}

// classifyTransport decides between timeout and connection failures.
func classifyTransport(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}
