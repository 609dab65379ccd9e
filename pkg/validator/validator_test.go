package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
	Note      string `json:"note,omitempty" validate:"omitempty,oneof=gift urgent"`
}

func newRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/cart/c1/lines", strings.NewReader(body))
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(lineRequest{ProductID: "para-500", Quantity: 2}))
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(lineRequest{Quantity: 0, Note: "later"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["productId"])
	assert.Equal(t, "is required", fields["quantity"])
	assert.Equal(t, "must be one of: gift urgent", fields["note"])
}

func TestValidate_Gte(t *testing.T) {
	err := Validate(lineRequest{ProductID: "para-500", Quantity: -3})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be greater than or equal to 1", valErr.Fields()["quantity"])
}

func TestDecodeStrict_Success(t *testing.T) {
	var dst lineRequest
	err := DecodeStrict(httptest.NewRecorder(), newRequest(`{"productId":"para-500","quantity":3}`), &dst)
	require.NoError(t, err)
	assert.Equal(t, "para-500", dst.ProductID)
	assert.Equal(t, 3, dst.Quantity)
}

func TestDecodeStrict_RejectsUnknownFields(t *testing.T) {
	var dst lineRequest
	err := DecodeStrict(httptest.NewRecorder(), newRequest(`{"productId":"p","quantity":1,"stock_quentity":"99"}`), &dst)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, decErr.Error(), "stock_quentity")
}

func TestDecodeStrict_RejectsStringQuantity(t *testing.T) {
	var dst lineRequest
	err := DecodeStrict(httptest.NewRecorder(), newRequest(`{"productId":"p","quantity":"3"}`), &dst)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeStrict_RejectsTrailingData(t *testing.T) {
	var dst lineRequest
	err := DecodeStrict(httptest.NewRecorder(), newRequest(`{"productId":"p","quantity":1}{"x":1}`), &dst)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeStrict_ValidatesAfterDecode(t *testing.T) {
	var dst lineRequest
	err := DecodeStrict(httptest.NewRecorder(), newRequest(`{"productId":"p","quantity":0}`), &dst)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "quantity")
}
