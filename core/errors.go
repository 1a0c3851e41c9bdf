package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput               = "INTEGRATIONS_BAD_INPUT"
	ErrorInstallationNotFound   = "INTEGRATIONS_INSTALLATION_NOT_FOUND"
	ErrorAuthorizationRequired  = "INTEGRATIONS_AUTHORIZATION_REQUIRED"
	ErrorTokenTransportFailure  = "INTEGRATIONS_TOKEN_TRANSPORT_FAILURE"
	ErrorTokenMalformed         = "INTEGRATIONS_TOKEN_MALFORMED_RESPONSE"
	ErrorTokenLoginFailed       = "INTEGRATIONS_TOKEN_UNSUCCESSFUL_LOGIN"
	ErrorVendorRejected         = "INTEGRATIONS_VENDOR_REJECTED"
	ErrorRetryLater             = "INTEGRATIONS_RETRY_LATER"
	ErrorRateLimited            = "INTEGRATIONS_RATE_LIMITED"
	ErrorVendorNotRegistered    = "INTEGRATIONS_VENDOR_NOT_REGISTERED"
	ErrorTransportFailure       = "INTEGRATIONS_TRANSPORT_FAILURE"
	ErrorInstallationUnreadable = "INTEGRATIONS_INSTALLATION_UNREADABLE"
	ErrorInternal               = "INTEGRATIONS_INTERNAL_ERROR"
)

// NotFoundError reports a missing or disabled installation.
type NotFoundError struct {
	InstallationID string
	Disabled       bool
}

func (e *NotFoundError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("core: installation %q is disabled", e.InstallationID)
	}
	return fmt.Sprintf("core: installation %q not found", e.InstallationID)
}

// InstallationLoadError reports one stored installation that could not be
// decoded. Scans skip it and keep going.
type InstallationLoadError struct {
	InstallationID string
	Cause          error
}

func (e *InstallationLoadError) Error() string {
	return fmt.Sprintf("core: installation %q could not be loaded: %v", e.InstallationID, e.Cause)
}

func (e *InstallationLoadError) Unwrap() error {
	return e.Cause
}

// AuthorizationError reports configuration that cannot produce credentials.
// The installation must be re-authorized by the user.
type AuthorizationError struct {
	InstallationID string
	Scheme         AuthScheme
	Missing        []string
	Reason         string
}

func (e *AuthorizationError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" && len(e.Missing) > 0 {
		reason = "missing " + strings.Join(e.Missing, ", ")
	}
	if reason == "" {
		reason = "not authorized"
	}
	return fmt.Sprintf("core: installation %q (%s) authorization required: %s", e.InstallationID, e.Scheme, reason)
}

type TokenAcquisitionKind string

const (
	TokenAcquisitionTransportFailure  TokenAcquisitionKind = "transport_failure"
	TokenAcquisitionMalformedResponse TokenAcquisitionKind = "malformed_response"
	TokenAcquisitionUnsuccessfulLogin TokenAcquisitionKind = "unsuccessful_login"
)

type TokenAcquisitionError struct {
	Kind           TokenAcquisitionKind
	VendorKey      string
	InstallationID string
	StatusCode     int
	Cause          error
}

func (e *TokenAcquisitionError) Error() string {
	msg := fmt.Sprintf("core: token acquisition for vendor %q failed (%s)", e.VendorKey, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TokenAcquisitionError) Unwrap() error {
	return e.Cause
}

// VendorError is one entry of a vendor structured error list.
type VendorError struct {
	Code     string `json:"errorCode"`
	Instance string `json:"instance"`
	Message  string `json:"message"`
}

// FatalError is a vendor-rejected request. It always names the connector operation.
type FatalError struct {
	Connector  string
	Operation  string
	StatusCode int
	Entries    []VendorError
	Body       string
	Cause      error
}

func (e *FatalError) Error() string {
	name := operationName(e.Connector, e.Operation)
	switch {
	case len(e.Entries) > 0:
		parts := make([]string, 0, len(e.Entries))
		for _, entry := range e.Entries {
			parts = append(parts, strings.TrimSpace(entry.Code+": "+entry.Message))
		}
		return fmt.Sprintf("%s: vendor rejected request: %s", name, strings.Join(parts, "; "))
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: vendor returned status %d: %s", name, e.StatusCode, strings.TrimSpace(e.Body))
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s", name, e.Cause.Error())
	default:
		return fmt.Sprintf("%s: request failed", name)
	}
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// RetryLaterError carries RetryLater delay bounds for callers that signal retries with errors.
type RetryLaterError struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Cause    error
}

func (e *RetryLaterError) Error() string {
	msg := fmt.Sprintf("core: retry later in %s..%s", e.MinDelay, e.MaxDelay)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RetryLaterError) Unwrap() error {
	return e.Cause
}

func operationName(connector, operation string) string {
	connector = strings.TrimSpace(connector)
	operation = strings.TrimSpace(operation)
	switch {
	case connector != "" && operation != "":
		return connector + "." + operation
	case connector != "":
		return connector
	case operation != "":
		return operation
	default:
		return "connector"
	}
}

func NewNotFoundError(installationID string, disabled bool) error {
	source := &NotFoundError{InstallationID: strings.TrimSpace(installationID), Disabled: disabled}
	return wrapTyped(source, goerrors.CategoryNotFound, ErrorInstallationNotFound, map[string]any{
		"installation_id": source.InstallationID,
		"disabled":        disabled,
	})
}

func NewInstallationLoadError(installationID string, cause error) error {
	source := &InstallationLoadError{InstallationID: strings.TrimSpace(installationID), Cause: cause}
	return wrapTyped(source, goerrors.CategoryInternal, ErrorInstallationUnreadable, map[string]any{
		"installation_id": source.InstallationID,
	})
}

func NewAuthorizationError(installationID string, scheme AuthScheme, reason string, missing ...string) error {
	source := &AuthorizationError{
		InstallationID: strings.TrimSpace(installationID),
		Scheme:         scheme,
		Missing:        append([]string(nil), missing...),
		Reason:         strings.TrimSpace(reason),
	}
	metadata := map[string]any{
		"installation_id": source.InstallationID,
		"auth_scheme":     string(scheme),
	}
	if len(missing) > 0 {
		metadata["missing_fields"] = append([]string(nil), missing...)
	}
	return wrapTyped(source, goerrors.CategoryAuth, ErrorAuthorizationRequired, metadata)
}

func NewTokenAcquisitionError(
	kind TokenAcquisitionKind,
	vendorKey string,
	installationID string,
	statusCode int,
	cause error,
) error {
	source := &TokenAcquisitionError{
		Kind:           kind,
		VendorKey:      strings.TrimSpace(vendorKey),
		InstallationID: strings.TrimSpace(installationID),
		StatusCode:     statusCode,
		Cause:          cause,
	}
	category := goerrors.CategoryExternal
	textCode := ErrorTokenTransportFailure
	switch kind {
	case TokenAcquisitionMalformedResponse:
		textCode = ErrorTokenMalformed
	case TokenAcquisitionUnsuccessfulLogin:
		category = goerrors.CategoryAuth
		textCode = ErrorTokenLoginFailed
	}
	return wrapTyped(source, category, textCode, map[string]any{
		"vendor_key":      source.VendorKey,
		"installation_id": source.InstallationID,
		"kind":            string(kind),
		"status_code":     statusCode,
	})
}

func NewFatalError(fatal *FatalError) error {
	if fatal == nil {
		fatal = &FatalError{}
	}
	metadata := map[string]any{
		"connector":   fatal.Connector,
		"operation":   fatal.Operation,
		"status_code": fatal.StatusCode,
	}
	if len(fatal.Entries) > 0 {
		codes := make([]string, 0, len(fatal.Entries))
		for _, entry := range fatal.Entries {
			codes = append(codes, entry.Code)
		}
		metadata["vendor_error_codes"] = codes
	}
	return wrapTyped(fatal, goerrors.CategoryExternal, ErrorVendorRejected, metadata)
}

func NewRetryLaterError(cause error, minDelay, maxDelay time.Duration) error {
	source := &RetryLaterError{MinDelay: minDelay, MaxDelay: maxDelay, Cause: cause}
	wrapped := goerrors.Wrap(source, goerrors.CategoryExternal, source.Error()).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorRetryLater).
		WithMetadata(map[string]any{
			"min_delay_ms": minDelay.Milliseconds(),
			"max_delay_ms": maxDelay.Milliseconds(),
		})
	return ensureErrorEnvelope(wrapped)
}

func wrapTyped(source error, category goerrors.Category, textCode string, metadata map[string]any) error {
	wrapped := goerrors.Wrap(source, category, source.Error()).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		wrapped.WithMetadata(metadata)
	}
	return ensureErrorEnvelope(wrapped)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// InstallationLoadFailure returns the id of the row a scan could not decode.
func InstallationLoadFailure(err error) (string, bool) {
	var target *InstallationLoadError
	if !errors.As(err, &target) {
		return "", false
	}
	return target.InstallationID, true
}

func IsAuthorizationError(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// TokenAcquisitionKindOf returns the acquisition failure subtype found in the chain.
func TokenAcquisitionKindOf(err error) (TokenAcquisitionKind, bool) {
	var target *TokenAcquisitionError
	if !errors.As(err, &target) {
		return "", false
	}
	return target.Kind, true
}

// RetryLaterBounds extracts the delay window carried by a RetryLaterError.
func RetryLaterBounds(err error) (time.Duration, time.Duration, bool) {
	var target *RetryLaterError
	if !errors.As(err, &target) {
		return 0, 0, false
	}
	return target.MinDelay, target.MaxDelay, true
}

func integrationErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "vendor") && strings.Contains(msg, "not registered"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, ErrorVendorNotRegistered)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newIntegrationError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newIntegrationError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newIntegrationError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = errorHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorInstallationNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthorizationRequired
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorVendorRejected
	default:
		return ErrorInternal
	}
}

func errorHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
