package gmail

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// wrapError maps API failures onto the mail error taxonomy.
func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	perr := &mail.ProviderError{Provider: "gmail", Op: op, Err: err}

	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return &mail.AuthError{Message: "token refresh failed", Err: err}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return &mail.AuthError{Message: "gmail rejected credentials", Err: err}
		case isRateLimit(apiErr):
			return &mail.RateLimitError{RetryAfter: retryAfter(apiErr.Header), Err: perr}
		case hasReason(apiErr, "insufficientPermissions"):
			return &mail.AuthError{Message: "token lacks a required gmail scope", Err: err}
		}
	}
	return perr
}

// breakerSuccess reports whether err counts as a success for the circuit
// breaker. 4xx responses other than throttling do not count as failures.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if isRateLimit(apiErr) {
			return false
		}
		return apiErr.Code >= 400 && apiErr.Code < 500
	}
	return false
}

func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	return hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded")
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsOpen reports whether err came from a tripped circuit breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
