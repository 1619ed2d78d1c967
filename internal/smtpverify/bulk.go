package smtpverify

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

type LineError struct {
	Line int
	Text string
	Err  string
}

// ParseBulkConfig reads "host|port|username|password" lines. Blank lines and
// lines starting with '#' are ignored. Port 465 selects implicit TLS; every
// other port uses STARTTLS.
func ParseBulkConfig(text string) ([]*db.SMTPEndpoint, []LineError) {
	var (
		endpoints []*db.SMTPEndpoint
		errs      []LineError
	)

	now := time.Now()
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			errs = append(errs, LineError{Line: lineNo, Text: line, Err: "expected host|port|username|password"})
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		host := parts[0]
		if host == "" {
			errs = append(errs, LineError{Line: lineNo, Text: line, Err: "empty host"})
			continue
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || port > 65535 {
			errs = append(errs, LineError{Line: lineNo, Text: line, Err: fmt.Sprintf("invalid port %q", parts[1])})
			continue
		}

		endpoints = append(endpoints, &db.SMTPEndpoint{
			ID:          uuid.New().String(),
			Name:        fmt.Sprintf("%s:%d", host, port),
			Host:        host,
			Port:        port,
			Username:    parts[2],
			Password:    parts[3],
			UseSSL:      port == 465,
			UseTLS:      port != 465,
			FromEmail:   parts[2],
			Timeout:     int(DefaultTimeout / time.Second),
			Active:      true,
			ThreadCount: DefaultThreads,
			CreatedAt:   now,
		})
	}

	return endpoints, errs
}
