package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{
			name:      "unauthorized",
			err:       errors.New("error, status code: 401, message: invalid api key"),
			wantType:  ErrorTypeAuth,
			retryable: false,
		},
		{
			name:      "model not found",
			err:       errors.New("the model `gpt-nope` does not exist"),
			wantType:  ErrorTypeModel,
			retryable: false,
		},
		{
			name:      "endpoint not found",
			err:       errors.New("error, status code: 404"),
			wantType:  ErrorTypeEndpoint,
			retryable: false,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 127.0.0.1:8000: connection refused"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "timeout",
			err:       errors.New("context deadline exceeded"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       errors.New("error, status code: 429, message: rate limit exceeded"),
			wantType:  ErrorTypeRateLimit,
			retryable: true,
		},
		{
			name:      "server error",
			err:       errors.New("error, status code: 503"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "unknown",
			err:       errors.New("something odd"),
			wantType:  ErrorTypeUnknown,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.wantType, classified.Type)
			assert.Equal(t, tt.retryable, classified.Retryable)
			assert.True(t, errors.Is(classified, tt.err), "classified error must wrap the cause")
		})
	}
}

func TestClassifyError_PreservesExisting(t *testing.T) {
	original := NewError(ErrorTypeRateLimit, "rate limited", true, errors.New("429"))
	wrapped := fmt.Errorf("turn failed: %w", original)

	classified := ClassifyError(wrapped)
	assert.Same(t, original, classified)
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrorTypeEndpoint, "server error", true, nil)))
	assert.False(t, IsRetryable(NewError(ErrorTypeAuth, "authentication failed", false, nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
}
