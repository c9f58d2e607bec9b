package gmail

import (
	"errors"
	"strings"
)

// DispatchError wraps a Gmail API rejection with classification metadata.
// In bulk mode these are recorded per recipient; they never abort the
// remaining batch.
type DispatchError struct {
	// StatusCode is the HTTP status code from the API.
	StatusCode int
	// Message is the error description from the API response body.
	Message string
	// Permanent indicates the same send will not succeed on retry.
	Permanent bool
}

func (e *DispatchError) Error() string {
	return "gmail: " + e.Message
}

// IsPermanent returns true if the error is a permanent failure that
// should not be retried.
func IsPermanent(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}

// ClassifyHTTPError creates a DispatchError from an API status code and
// response body.
func ClassifyHTTPError(statusCode int, body string) *DispatchError {
	de := &DispatchError{
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		// Not an error.
		return nil

	case statusCode == 400:
		de.Permanent = containsPermanentIndicator(body)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		de.Permanent = true

	case statusCode == 429:
		// Rate limited - always transient. Still recorded as a failure;
		// the pacing delay is the only backoff strategy.
		de.Permanent = false

	case statusCode >= 500:
		de.Permanent = false

	default:
		de.Permanent = statusCode >= 400 && statusCode < 500
	}

	return de
}

// containsPermanentIndicator checks if a 400 response body indicates a
// failure that will not change on retry (e.g. an invalid recipient).
func containsPermanentIndicator(body string) bool {
	lower := strings.ToLower(body)
	permanentPatterns := []string{
		"invalid recipient",
		"invalid to header",
		"invalidargument",
		"recipient address required",
		"invalid address",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
