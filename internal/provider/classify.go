package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class categorizes a provider call failure.
type Class string

const (
	ClassRateLimit Class = "rate_limit" // 429: retryable, provider asked us to slow down
	ClassTransient Class = "transient"  // 5xx, timeout, connection failure
	ClassFatal     Class = "fatal"      // auth failure, malformed request: never retried
	ClassUnknown   Class = "unknown"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "...(truncated)"
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Status, body)
}

// Classify maps a call error onto a Class. Retryable returns true for
// classes the retry policy may attempt again.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return ClassRateLimit
		case se.Status >= 500:
			return ClassTransient
		case se.Status == 401 || se.Status == 403 || se.Status == 400 || se.Status == 404 || se.Status == 422:
			return ClassFatal
		default:
			return ClassUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"):
		return ClassTransient
	}
	return ClassUnknown
}

// Retryable reports whether an error of this class is worth another attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimit, ClassTransient, ClassUnknown:
		return true
	default:
		return false
	}
}
