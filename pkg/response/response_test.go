package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appErrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Success(ctx, http.StatusCreated, gin.H{"email": "a@example.com"})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
}

func TestSuccessWithMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	SuccessWithMessage(ctx, http.StatusOK, "Verification code sent", nil)

	resp := decode(t, rec)
	require.True(t, resp.Success)
	require.Equal(t, "Verification code sent", resp.Message)
	require.Nil(t, resp.Data)
}

func TestErrorWithAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Error(ctx, appErrors.ErrForbidden)

	require.Equal(t, appErrors.ErrForbidden.StatusCode, rec.Code)
	resp := decode(t, rec)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, appErrors.ErrForbidden.Code, resp.Error.Code)
}

func TestErrorIncludesValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	fields := validator.ValidationErrors{{Field: "otp_code", Tag: "len", Param: "6"}}
	Error(ctx, appErrors.NewValidation("otp_code failed on len=6").WithInternal(fields))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.Error.Fields, 1)
	require.Equal(t, "otp_code", resp.Error.Fields[0].Field)
}

func TestErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Error(ctx, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	require.Equal(t, appErrors.ErrInternalServer.Message, resp.Error.Message)
}
