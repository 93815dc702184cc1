package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{auth.ErrExpiredToken, http.StatusUnauthorized, "Invalid token"},
		{workflow.ErrUnknownWorkflow, http.StatusNotFound, "Unknown workflow"},
		{workflow.ErrRunNotFound, http.StatusNotFound, "Run not found"},
		{store.ErrTaskNodeNotFound, http.StatusNotFound, "Not found"},
		{workflow.ErrRunInProgress, http.StatusConflict, "Run already in progress"},
		{workflow.ErrNothingToRetry, http.StatusConflict, "Nothing to retry"},
		{fmt.Errorf("%w: bad json", workflow.ErrInvalidInput), http.StatusBadRequest, "Invalid workflow input"},
		{store.ErrInvalidEntity, http.StatusBadRequest, "Invalid entity data"},
		{errors.New("tpin 1001234567 locked"), http.StatusInternalServerError, "An unexpected error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.message, GetSafeErrorMessage(tt.err))
		})
	}
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("plain")))
}
