package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"검증 에러 래핑", fmt.Errorf("%w: title is required", ErrValidationFailed), KindValidation},
		{"좌표 오류", ErrInvalidCoordinates, KindValidation},
		{"정원 초과", ErrPoolFull, KindStateConflict},
		{"중복 참여", ErrAlreadyJoined, KindStateConflict},
		{"상태 오류", ErrInvalidState, KindStateConflict},
		{"낙관적 잠금 충돌", ErrConflict, KindConcurrency},
		{"미등록 에러", errors.New("db down"), KindInfrastructure},
		{"없음", ErrListingNotFound, KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrConflict))
	assert.True(t, IsRetryable(errors.New("connection refused")))
	assert.False(t, IsRetryable(ErrPoolFull))
	assert.False(t, IsRetryable(ErrValidationFailed))
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{ErrPoolFull, http.StatusConflict, "POOL_FULL"},
		{ErrAlreadyJoined, http.StatusConflict, "ALREADY_JOINED"},
		{fmt.Errorf("%w: price must be positive", ErrValidationFailed), http.StatusBadRequest, "VALIDATION_FAILED"},
		{ErrListingNotFound, http.StatusNotFound, "LISTING_NOT_FOUND"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}
