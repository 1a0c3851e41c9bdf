package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const DefaultRetryLaterDelay = 5 * time.Second

// DefaultTransientMarkers are vendor error instances that mean "try again later".
var DefaultTransientMarkers = []string{"url-locked"}

// Outcome is what the Sender produced for one request.
type Outcome struct {
	Request  Request
	Response Response
	Err      error
}

// Classifier maps an Outcome to a RetryDecision. It performs no I/O and holds
// no mutable state.
type Classifier struct {
	TransientMarkers []string
	RetryDelay       time.Duration
}

func NewClassifier(markers []string, retryDelay time.Duration) Classifier {
	normalized := make([]string, 0, len(markers))
	for _, marker := range markers {
		if marker = strings.TrimSpace(strings.ToLower(marker)); marker != "" {
			normalized = append(normalized, marker)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, DefaultTransientMarkers...)
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryLaterDelay
	}
	return Classifier{TransientMarkers: normalized, RetryDelay: retryDelay}
}

func (c Classifier) Classify(outcome Outcome) RetryDecision {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryLaterDelay
	}
	name := operationName(outcome.Request.Connector, outcome.Request.Operation)

	if outcome.Err != nil {
		if senderMisconfigured(outcome.Err) {
			return Fatal(NewFatalError(&FatalError{
				Connector: outcome.Request.Connector,
				Operation: outcome.Request.Operation,
				Cause:     outcome.Err,
			}))
		}
		return RetryLater(fmt.Errorf("%s: transport failure: %w", name, outcome.Err), delay, delay)
	}

	response := outcome.Response
	if entries, ok := ParseVendorErrors(response.Body); ok {
		for _, entry := range entries {
			if c.isTransient(entry) {
				return RetryLater(
					fmt.Errorf("%s: transient vendor error %s (%s): %s", name, entry.Code, entry.Instance, entry.Message),
					delay,
					delay,
				)
			}
		}
		return Fatal(NewFatalError(&FatalError{
			Connector:  outcome.Request.Connector,
			Operation:  outcome.Request.Operation,
			StatusCode: response.StatusCode,
			Entries:    entries,
		}))
	}

	if response.StatusCode >= http.StatusBadRequest {
		return Fatal(NewFatalError(&FatalError{
			Connector:  outcome.Request.Connector,
			Operation:  outcome.Request.Operation,
			StatusCode: response.StatusCode,
			Body:       string(response.Body),
		}))
	}
	return Success(response)
}

// senderMisconfigured reports Sender errors that resending cannot fix: bad
// input, validation, or internal wiring such as a vendor with no sender.
// Untyped errors are treated as transport failures.
func senderMisconfigured(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	switch rich.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryInternal:
		return true
	default:
		return false
	}
}

func (c Classifier) isTransient(entry VendorError) bool {
	instance := strings.TrimSpace(strings.ToLower(entry.Instance))
	if instance == "" {
		return false
	}
	markers := c.TransientMarkers
	if len(markers) == 0 {
		markers = DefaultTransientMarkers
	}
	for _, marker := range markers {
		if instance == strings.TrimSpace(strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ParseVendorErrors extracts a non-empty structured error list of the shape
// {"errors":[{"errorCode":..,"instance":..,"message":..}]}.
func ParseVendorErrors(body []byte) ([]VendorError, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var envelope struct {
		Errors []map[string]any `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil, false
	}
	entries := make([]VendorError, 0, len(envelope.Errors))
	for _, raw := range envelope.Errors {
		entries = append(entries, VendorError{
			Code:     firstString(raw, "errorCode", "error_code", "code"),
			Instance: firstString(raw, "instance", "category"),
			Message:  firstString(raw, "message", "detail", "description"),
		})
	}
	return entries, true
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch typed := value.(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				return strings.TrimSpace(typed)
			}
		default:
			return strings.TrimSpace(fmt.Sprint(typed))
		}
	}
	return ""
}
