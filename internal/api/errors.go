package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, workflow.ErrUnknownWorkflow),
		errors.Is(err, workflow.ErrRunNotFound),
		store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, workflow.ErrRunInProgress),
		errors.Is(err, workflow.ErrNothingToRetry):
		return http.StatusConflict

	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, workflow.ErrUnknownWorkflow):
		return "Unknown workflow"
	case errors.Is(err, workflow.ErrRunNotFound):
		return "Run not found"
	case store.IsNotFoundError(err):
		return "Not found"
	case errors.Is(err, workflow.ErrRunInProgress):
		return "Run already in progress"
	case errors.Is(err, workflow.ErrNothingToRetry):
		return "Nothing to retry"
	case errors.Is(err, workflow.ErrInvalidInput):
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return SanitizeValidationError(verrs)
		}
		return "Invalid workflow input"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message naming
// the offending fields, without echoing their values.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), getValidationTagMessage(fe.Tag())))
	}
	return "Invalid " + strings.Join(parts, "; ")
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid element"
	case "excludesall":
		return "invalid characters"
	default:
		return "validation failed"
	}
}
