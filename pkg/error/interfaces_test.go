package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *BaseError
		want string
	}{
		{
			name: "无原因",
			err:  NewError(ErrConfigInvalid, "cache.default_ttl must be positive"),
			want: "CONFIG_INVALID: cache.default_ttl must be positive",
		},
		{
			name: "包装原因",
			err:  WrapError(ErrImageLoadFailed, "failed to load image: /a.png", errors.New("404")),
			want: "IMAGE_LOAD_FAILED: failed to load image: /a.png: 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestBaseError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrImageLoadFailed, "failed to load image", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, NewError(ErrImageLoadFailed, "other message"))
	assert.NotErrorIs(t, err, NewError(ErrInternal, "failed to load image"))

	wrapped := fmt.Errorf("preload: %w", err)
	assert.ErrorIs(t, wrapped, &BaseError{Code: ErrImageLoadFailed})
}

func TestBaseError_WithContext(t *testing.T) {
	err := (&BaseError{Code: ErrObserverCallback}).
		WithContext("observer", "abc").
		WithContext("event", "error")

	assert.Equal(t, "abc", err.Context["observer"])
	assert.Equal(t, "error", err.Context["event"])
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("beacon: %w", NewError(ErrBeaconInvalid, "unknown type"))

	assert.True(t, HasCode(err, ErrBeaconInvalid))
	assert.False(t, HasCode(err, ErrInternal))
	assert.False(t, HasCode(errors.New("plain"), ErrInternal))
	assert.False(t, HasCode(nil, ErrInternal))
}
