package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := NotFound("record not found").WithResource("foo/bar")
	wrapped := fmt.Errorf("lookup failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrSerialization))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsStorageUnavailable(wrapped))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  Invalid("type is required"),
			want: "type is required",
		},
		{
			name: "resource",
			err:  NotFound("record not found").WithResource("foo/bar"),
			want: "record not found (resource=foo/bar)",
		},
		{
			name: "resource and operation with cause",
			err: StorageUnavailable("cannot open store", errors.New("permission denied")).
				WithResource("/var/lib/burnet/objectstore").
				WithOperation("open"),
			want: "cannot open store (resource=/var/lib/burnet/objectstore, operation=open): permission denied",
		},
		{
			name: "kind fallback",
			err:  &Error{Kind: KindInternal},
			want: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("json: unsupported type")
	err := Serialization("cannot encode value", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsSerialization(err))
	assert.Equal(t, KindSerialization, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
}
