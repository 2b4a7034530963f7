package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FallbackReason explains why sample data is being served.
type FallbackReason string

const (
	FallbackReasonTimeout    FallbackReason = "timeout"
	FallbackReasonParseError FallbackReason = "parse_error"
	FallbackReasonUnknown    FallbackReason = "unknown"

	clientStatusPrefix = "client_status_"
)

// ClientStatusReason builds the reason for an upstream HTTP status.
func ClientStatusReason(code int) FallbackReason {
	return FallbackReason(fmt.Sprintf("%s%d", clientStatusPrefix, code))
}

// StatusCode extracts the HTTP status encoded in a client_status reason.
func (r FallbackReason) StatusCode() (int, bool) {
	rest, ok := strings.CutPrefix(string(r), clientStatusPrefix)
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return code, true
}

// FallbackResult is the outcome of an ingestion attempt.
type FallbackResult struct {
	Week       Week           `json:"week"`
	IsFallback bool           `json:"isFallback"`
	Reason     FallbackReason `json:"reason,omitempty"`
	Adapter    string         `json:"adapter,omitempty"`
}

// FallbackStatus is the user-facing description of a fallback reason.
type FallbackStatus struct {
	Reason             FallbackReason `json:"reason"`
	Message            string         `json:"message"`
	IsPermanentFailure bool           `json:"permanent_failure"`
}
