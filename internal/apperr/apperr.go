// Package apperr defines the dispatcher's error taxonomy: a closed set of
// kinds, each mapped to an HTTP status and a sentry-worthiness flag, plus a
// router outcome for the broker consumer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure. Never use a bare error across a
// package boundary where a Kind applies.
type Kind string

const (
	KindInvalidParameter Kind = "invalid_parameter"
	KindInvalidPayload   Kind = "invalid_payload"

	KindAuthenticationFailed Kind = "authentication_failed"

	KindAccessDenied Kind = "access_denied"

	KindClassNotFound           Kind = "class_not_found"
	KindRecordingNotFound       Kind = "recording_not_found"
	KindClassPropertyNotFound   Kind = "class_property_not_found"
	KindAccountNotFound         Kind = "account_not_found"
	KindAccountPropertyNotFound Kind = "account_property_not_found"

	KindAuthorizationFailed     Kind = "authorization_failed"
	KindSerializationFailed     Kind = "serialization_failed"
	KindClassClosingFailed      Kind = "class_closing_failed"
	KindTranscodingFlowFailed   Kind = "transcoding_flow_failed"
	KindEditionFlowFailed       Kind = "edition_flow_failed"
	KindAudienceDoesNotMatch    Kind = "audience_does_not_match"
	KindOperationIDObsolete     Kind = "operation_id_obsolete"
	KindOperationInProgress     Kind = "operation_in_progress"
	KindDBConnAcquisitionFailed Kind = "db_conn_acquisition_failed"
	KindDBQueryFailed           Kind = "db_query_failed"

	KindMqttRequestFailed        Kind = "mqtt_request_failed"
	KindInternalFailure          Kind = "internal_failure"
	KindCreationWhiteboardFailed Kind = "creation_whiteboard_failed"
	KindNatsClientNotFound       Kind = "nats_client_not_found"
	KindNatsPublishFailed        Kind = "nats_publish_failed"
)

// HTTPStatus maps a Kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidParameter, KindInvalidPayload:
		return http.StatusBadRequest
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindClassNotFound, KindRecordingNotFound, KindClassPropertyNotFound,
		KindAccountNotFound, KindAccountPropertyNotFound:
		return http.StatusNotFound
	case KindAuthorizationFailed, KindSerializationFailed, KindClassClosingFailed,
		KindTranscodingFlowFailed, KindEditionFlowFailed, KindAudienceDoesNotMatch,
		KindOperationIDObsolete, KindOperationInProgress, KindDBConnAcquisitionFailed,
		KindDBQueryFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Sentry reports whether errors of this kind warrant reporting to the
// error-tracking collaborator. Client-induced errors (bad input, 404s,
// authz failures) are excluded.
func (k Kind) Sentry() bool {
	switch k {
	case KindTranscodingFlowFailed, KindEditionFlowFailed, KindSerializationFailed,
		KindDBQueryFailed, KindDBConnAcquisitionFailed, KindMqttRequestFailed,
		KindClassClosingFailed, KindInternalFailure, KindNatsPublishFailed,
		KindCreationWhiteboardFailed:
		return true
	default:
		return false
	}
}

// Transient reports whether the failure is worth a single retry or a
// "process later" broker outcome, as opposed to being terminal.
func (k Kind) Transient() bool {
	switch k {
	case KindMqttRequestFailed, KindNatsPublishFailed, KindDBConnAcquisitionFailed,
		KindInternalFailure:
		return true
	default:
		return false
	}
}

// Error is the dispatcher's error envelope: a Kind plus the underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

// New wraps cause under kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Newf builds a cause from a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail returns the human-readable cause string for the HTTP Problem body.
func (e *Error) Detail() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return e.Cause.Error()
}

// As extracts an *Error from any error via errors.As semantics, falling
// back to KindInternalFailure for unrecognized errors.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternalFailure, Cause: err}
}
