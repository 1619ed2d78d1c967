package smtpverify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

const DefaultTimeout = 10 * time.Second

// Prober issues a single RCPT probe through one endpoint.
type Prober interface {
	Probe(ctx context.Context, ep *db.SMTPEndpoint, email string) Outcome
}

type SMTPProber struct {
	HeloName string
	// TLSConfig is cloned per connection; ServerName is set to the endpoint host.
	TLSConfig *tls.Config
}

func NewSMTPProber(heloName string) *SMTPProber {
	if heloName == "" {
		heloName = "localhost"
	}
	return &SMTPProber{HeloName: heloName}
}

func endpointTimeout(ep *db.SMTPEndpoint) time.Duration {
	if ep.Timeout > 0 {
		return time.Duration(ep.Timeout) * time.Second
	}
	return DefaultTimeout
}

func (p *SMTPProber) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if p.TLSConfig != nil {
		cfg = p.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// attempt is one authenticated session bounded by a single deadline. When the
// deadline passes the connection is closed, whatever command is in flight.
type attempt struct {
	client *smtp.Client
	ctx    context.Context
	stop   func()
}

func (a *attempt) close() {
	a.client.Close()
	a.stop()
}

// fail tags err, preferring the attempt deadline over the error the closed
// connection produced.
func (a *attempt) fail(err error) *ProbeError {
	return attemptError(a.ctx, err)
}

func attemptError(ctx context.Context, err error) *ProbeError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ProbeError{Kind: classifyTransport(ctxErr), Err: err}
	}
	return sessionError(err)
}

func (p *SMTPProber) session(ctx context.Context, ep *db.SMTPEndpoint) (*attempt, error) {
	timeout := endpointTimeout(ep)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if ep.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: p.tlsConfig(ep.Host)}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		cancel()
		return nil, &ProbeError{Kind: classifyTransport(err), Err: err}
	}

	closeOnDeadline := context.AfterFunc(ctx, func() { conn.Close() })
	stop := func() {
		closeOnDeadline()
		cancel()
	}
	abort := func(err error) (*attempt, error) {
		pe := attemptError(ctx, err)
		conn.Close()
		stop()
		return nil, pe
	}

	var c *smtp.Client
	if ep.UseTLS && !ep.UseSSL {
		c, err = smtp.NewClientStartTLS(conn, p.tlsConfig(ep.Host))
		if err != nil {
			return abort(err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = timeout

	// After STARTTLS the client must greet again, so Hello is still first.
	if err := c.Hello(p.HeloName); err != nil {
		return abort(err)
	}

	a := &attempt{client: c, ctx: ctx, stop: stop}

	if ep.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", ep.Username, ep.Password)); err != nil {
			pe := a.fail(err)
			a.close()
			var smtpErr *smtp.SMTPError
			if ctx.Err() == nil && (errors.As(err, &smtpErr) || !isTransport(err)) {
				pe.Kind = FailureAuth
			}
			return nil, pe
		}
	}

	return a, nil
}

func isTransport(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

func sessionError(err error) *ProbeError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &ProbeError{Kind: FailureProtocol, Err: err}
	}
	if isTransport(err) {
		return &ProbeError{Kind: classifyTransport(err), Err: err}
	}
	return &ProbeError{Kind: FailureProtocol, Err: err}
}

func (p *SMTPProber) Probe(ctx context.Context, ep *db.SMTPEndpoint, email string) Outcome {
	a, err := p.session(ctx, ep)
	if err != nil {
		var probeErr *ProbeError
		if errors.As(err, &probeErr) {
			return failure(probeErr.Kind, probeErr.Err)
		}
		return failure(FailureConnection, err)
	}
	defer a.close()
	c := a.client

	from := ep.FromEmail
	if from == "" {
		from = ep.Username
	}
	if err := c.Mail(from, nil); err != nil {
		pe := a.fail(err)
		return failure(pe.Kind, fmt.Errorf("MAIL FROM rejected: %w", err))
	}

	outcome := InterpretCode(250)
	if err := c.Rcpt(email, nil); err != nil {
		var smtpErr *smtp.SMTPError
		if !errors.As(err, &smtpErr) {
			pe := a.fail(err)
			return failure(pe.Kind, err)
		}
		outcome = InterpretCode(smtpErr.Code)
		if smtpErr.Message != "" {
			outcome.Detail = fmt.Sprintf("%s: %s", outcome.Detail, smtpErr.Message)
		}
	}

	c.Quit()
	return outcome
}

// HealthCheck opens and closes an authenticated session without probing.
func (p *SMTPProber) HealthCheck(ctx context.Context, ep *db.SMTPEndpoint) error {
	a, err := p.session(ctx, ep)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.client.Quit(); err != nil {
		return a.fail(err)
	}
	return nil
}
