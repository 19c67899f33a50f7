package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestConstructorsCarryCategoryAndStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
	}{
		{"validation", NewValidationError("bad input"), CategoryValidation, http.StatusBadRequest},
		{"unavailable", NewSourceUnavailableError("github", stderrors.New("refused")), CategorySourceUnavailable, http.StatusBadGateway},
		{"timeout", NewSourceTimeoutError("github", 8*time.Second, context.DeadlineExceeded), CategorySourceTimeout, http.StatusGatewayTimeout},
		{"malformed", NewSourceMalformedError("reviews", stderrors.New("bad json")), CategorySourceMalformed, http.StatusBadGateway},
		{"insufficient", NewInsufficientEvidenceError(1, 4, 0.4), CategoryInsufficientEvidence, http.StatusUnprocessableEntity},
		{"no evidence", NewNoEvidenceError("acme"), CategoryNoEvidence, http.StatusUnprocessableEntity},
		{"sandbox", NewSandboxError("provision failed", stderrors.New("mkdir")), CategorySandbox, http.StatusInternalServerError},
		{"rate limit", NewRateLimitError(30 * time.Second), CategoryRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("boom", nil), CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.True(t, IsCategory(tt.err, tt.category))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestIsCategoryThroughWrapping(t *testing.T) {
	base := NewSourceUnavailableError("github", stderrors.New("refused"))
	wrapped := fmt.Errorf("fetch failed: %w", base)

	assert.True(t, IsCategory(wrapped, CategorySourceUnavailable))
	assert.False(t, IsCategory(wrapped, CategorySourceTimeout))
	assert.False(t, IsCategory(stderrors.New("plain"), CategorySourceUnavailable))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"source unavailable", NewSourceUnavailableError("github", nil), true},
		{"source timeout", NewSourceTimeoutError("github", time.Second, nil), true},
		{"rate limited", NewRateLimitError(time.Second), true},
		{"malformed is final", NewSourceMalformedError("reviews", nil), false},
		{"validation is final", NewValidationError("bad"), false},
		{"no evidence is final", NewNoEvidenceError("acme"), false},
		{"sandbox is final", NewSandboxError("broken", nil), false},
		{"raw connection refused", stderrors.New("dial tcp: connection refused"), true},
		{"raw timeout", stderrors.New("i/o timeout"), true},
		{"raw other", stderrors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestToAppError(t *testing.T) {
	appErr := NewValidationError("bad")
	assert.Same(t, appErr, ToAppError(appErr))
	assert.Same(t, appErr, ToAppError(fmt.Errorf("wrapped: %w", appErr)))

	converted := ToAppError(context.Canceled)
	assert.Equal(t, CategoryInternal, converted.Category)
	assert.Equal(t, http.StatusServiceUnavailable, converted.HTTPStatus)

	converted = ToAppError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, converted.HTTPStatus)

	converted = ToAppError(stderrors.New("mystery"))
	assert.Equal(t, CategoryInternal, converted.Category)
	assert.Equal(t, http.StatusInternalServerError, converted.HTTPStatus)

	assert.Nil(t, ToAppError(nil))
}

func TestErrorHandlerMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(NewInsufficientEvidenceError(1, 4, 0.4))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_evidence")
	assert.Contains(t, w.Body.String(), "insufficient evidence collected")
}

func TestRecoveryHandlerMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryHandler())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal")
}

func TestWrapError(t *testing.T) {
	base := stderrors.New("cause")
	wrapped := WrapError(base, "fetching %s", "acme")
	require.Error(t, wrapped)
	assert.Equal(t, "fetching acme: cause", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, base))

	assert.NoError(t, WrapError(nil, "ignored"))
}

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return stderrors.New("close failed")
}

func TestSafeClose(t *testing.T) {
	fc := &failingCloser{}
	SafeClose(fc, "test resource")
	assert.True(t, fc.closed)

	// nil closers are ignored.
	SafeClose(nil, "absent")
}
