package llm

import (
	"errors"
	"strings"
)

var (
	// ErrRateLimited marks a quota or rate-limit rejection by the upstream.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrUnavailable is returned by Generate on a backend that is not
	// initialised or has no credentials.
	ErrUnavailable = errors.New("llm: backend unavailable")

	// ErrEmptyResponse is returned when the upstream answers without text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// quotaSignals are lower-case fragments that upstream SDKs put in quota
// error messages.
var quotaSignals = []string{
	"rate limit",
	"rate_limit",
	"quota",
	"429",
	"too many requests",
	"resource_exhausted",
	"insufficient_quota",
}

// IsQuotaError reports whether err signals credential quota exhaustion.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range quotaSignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
