package logger

import (
	"log/slog"
	"strings"
)

// RedactEmail masks the local part of an address for logging.
// "john.doe@example.com" becomes "jo***@example.com".
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	name, host := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + host
	}
	return "***@" + host
}

// Email returns a redacted email attribute
func Email(key, email string) slog.Attr {
	return slog.String(key, RedactEmail(email))
}
