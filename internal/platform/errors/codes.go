// Package errors provides coded errors shared by the chat relay surfaces.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Caller errors
	CodeAuth            Code = "AUTH_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeEmptyInput      Code = "EMPTY_INPUT"
	CodeRoomAccess      Code = "ROOM_ACCESS_DENIED"
	CodeRateLimited     Code = "RATE_LIMITED"

	// Upstream dependency errors
	CodeTranslationUnavailable Code = "TRANSLATION_UNAVAILABLE"
	CodeAssistantUnavailable   Code = "ASSISTANT_UNAVAILABLE"

	// Storage errors
	CodePersistence              Code = "PERSISTENCE_ERROR"
	CodeConversationCreateFailed Code = "CONVERSATION_CREATE_FAILED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeAlreadyExists            Code = "ALREADY_EXISTS"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeInvalidArgument, CodeEmptyInput:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeRoomAccess:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTranslationUnavailable, CodeAssistantUnavailable, CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed later without
// the caller changing it.
func (c Code) Retryable() bool {
	switch c {
	case CodeTranslationUnavailable, CodeAssistantUnavailable, CodePersistence,
		CodeConversationCreateFailed, CodeRateLimited:
		return true
	default:
		return false
	}
}
