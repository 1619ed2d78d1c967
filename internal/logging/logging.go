package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger. Debug mode uses the development encoder.
func New(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// RedactEmail keeps the first two characters of the local part and the domain.
func RedactEmail(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return "***@***"
	}
	name, domain := email[:i], email[i+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}

// Email is a zap field carrying a redacted address.
func Email(email string) zap.Field {
	return zap.String("email", RedactEmail(email))
}
