// Package logging constructs the engine's zap logger and keeps connection
// strings out of the logs.
package logging

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// New builds the root logger for the given environment. Local environments
// get the development console encoder; everything else logs structured JSON.
func New(env string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

const redactedText = "[REDACTED]"

var (
	passwordPattern   = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string
// before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+redactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+redactedText+"@"+redactedText)
	return sanitized
}
