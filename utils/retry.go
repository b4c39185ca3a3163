package utils

import "strings"

// IsRetryableError reports whether an error is worth retrying, based on
// common transient network failure modes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"network",
		"dial tcp",
		"i/o timeout",
		"no such host",
		"connection timed out",
		"eof",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
