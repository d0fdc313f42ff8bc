package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Step failure codes. The code is the stable half of a step error: the
// executor classifies on it and the event log records it, so a shipped
// code must never change meaning.
const (
	// User-caused or pre-condition violations. Fatal for the run.
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeDomainTaken       = "DOMAIN_TAKEN"
	CodeTierLimitExceeded = "TIER_LIMIT_EXCEEDED"
	CodeNoWorkerIDs       = "NO_WORKER_IDS_AVAILABLE"

	// Internal state violations. Fatal for the run.
	CodeInstanceNotFound       = "INSTANCE_NOT_FOUND"
	CodeInfrastructureNotFound = "INFRASTRUCTURE_NOT_FOUND"
	CodeSecretsMissing         = "SECRETS_MISSING"
	CodeSecretsIncomplete      = "SECRETS_INCOMPLETE"

	// Transient or remote failures. Retried.
	CodeNetworkCreationFailed = "NETWORK_CREATION_FAILED"
	CodeContainerStartFailed  = "CONTAINER_START_FAILED"
	CodeDBProvisionFailed     = "DB_PROVISION_FAILED"
	CodeDNSProxyFailed        = "DNS_PROXY_FAILED"
	CodeMinioProvisionFailed  = "MINIO_PROVISION_FAILED"

	// Post-condition probes that came back negative. Retried.
	CodeWorkerIDVerifyFailed = "WORKER_ID_VERIFY_FAILED"
	CodeDBNotFound           = "DB_NOT_FOUND"
	CodeBucketVerifyFailed   = "BUCKET_VERIFY_FAILED"
	CodeNetworkVerifyFailed  = "NETWORK_VERIFY_FAILED"
	CodeContainerNotRunning  = "CONTAINER_NOT_RUNNING"
	CodeDNSVerifyFailed      = "DNS_VERIFY_FAILED"
	CodeRouteVerifyFailed    = "ROUTE_VERIFY_FAILED"

	// CodeStepException marks a recovered panic inside a step. Retried.
	CodeStepException = "STEP_EXCEPTION"

	// CodeMaxRetriesExceeded is the terminal envelope the executor wraps
	// around the last error once a retryable code has burned all attempts.
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
)

var fatalCodes = map[string]struct{}{
	CodeValidationFailed:       {},
	CodeDomainTaken:            {},
	CodeTierLimitExceeded:      {},
	CodeNoWorkerIDs:            {},
	CodeInstanceNotFound:       {},
	CodeInfrastructureNotFound: {},
	CodeSecretsMissing:         {},
	CodeSecretsIncomplete:      {},
}

// Error is a coded step failure. Steps return failures as values, never
// panics; the executor classifies retry behavior by Code alone.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the code onto an ops API response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeDomainTaken:
		return http.StatusConflict
	case CodeTierLimitExceeded:
		return http.StatusForbidden
	case CodeInstanceNotFound, CodeInfrastructureNotFound:
		return http.StatusNotFound
	case CodeNoWorkerIDs:
		return http.StatusServiceUnavailable
	case CodeSecretsMissing, CodeSecretsIncomplete:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Errorf builds a coded error.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error around a driver or store failure, keeping
// the cause reachable through errors.Is/As.
func Wrap(code string, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Fatal reports whether err carries a code the executor must not retry.
// Uncoded errors are treated as transient.
func Fatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	_, ok := fatalCodes[e.Code]
	return ok
}

// Code extracts the stable code from err, or "" when err is uncoded.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
