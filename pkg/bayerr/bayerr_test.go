package bayerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "ship not found")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, NotFound, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(ProvisionError, "create container", nil))
}

func TestWrap_PreservesUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(ProvisionError, "create container", cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{CapacityExceeded, http.StatusRequestTimeout},
		{CapacityTimeout, http.StatusRequestTimeout},
		{ProvisionError, http.StatusInternalServerError},
		{ReadinessTimeout, http.StatusInternalServerError},
		{ForwardError, http.StatusBadRequest},
		{PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{SchedulerError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.HTTPStatus(), c.kind.String())
	}
}

func TestUploadStatusFromMessage(t *testing.T) {
	cases := []struct {
		message string
		want    int
	}{
		{"file exceeds max size", http.StatusRequestEntityTooLarge},
		{"path not found", http.StatusNotFound},
		{"Access denied: path must be within workspace", http.StatusForbidden},
		{"something else went wrong", http.StatusBadRequest},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, UploadStatusFromMessage(c.message), c.message)
	}
}
