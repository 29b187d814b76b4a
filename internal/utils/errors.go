package utils

import (
	"strings"
)

// IsRetryableError reports whether a storage error is worth retrying.
// Connection-level failures are transient; constraint violations are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	retryable := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"too many connections",
		"the database system is starting up",
	}

	msg := err.Error()
	for _, fragment := range retryable {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
