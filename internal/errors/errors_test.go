package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/livequiz/internal/errors"
)

func TestError(t *testing.T) {
	tests := map[string]struct {
		err      error
		sentinel error
		grpc     codes.Code
		http     int
	}{
		"not found": {
			err:      errors.NotFound("session not found: %s", "ABC123"),
			sentinel: errors.ErrNotFound,
			grpc:     codes.NotFound,
			http:     http.StatusNotFound,
		},
		"forbidden": {
			err:      errors.Forbidden("not the host"),
			sentinel: errors.ErrForbidden,
			grpc:     codes.PermissionDenied,
			http:     http.StatusForbidden,
		},
		"banned": {
			err:      errors.Banned("you are banned from this session"),
			sentinel: errors.ErrBanned,
			grpc:     codes.FailedPrecondition,
			http:     http.StatusPreconditionFailed,
		},
		"wrapped not found": {
			err:      fmt.Errorf("lookup: %w", errors.NotFound("gone")),
			sentinel: errors.ErrNotFound,
			grpc:     codes.NotFound,
			http:     http.StatusNotFound,
		},
		"plain error becomes internal": {
			err:  stderrors.New("boom"),
			grpc: codes.Internal,
			http: http.StatusInternalServerError,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := errors.Convert(tc.err)
			assert.Equal(t, tc.grpc, status.Code(e))
			assert.Equal(t, tc.http, e.HTTPStatusCode())

			if tc.sentinel != nil {
				assert.True(t, errors.Is(tc.err, tc.sentinel))
			}
		})
	}
}

func TestError_SentinelsDoNotCrossMatch(t *testing.T) {
	err := errors.Forbidden("not the host")

	assert.False(t, errors.Is(err, errors.ErrNotFound))
	assert.False(t, errors.Is(err, errors.ErrBanned))
}

func TestError_Message(t *testing.T) {
	cause := stderrors.New("decode")
	e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid payload"), errors.WithCause(cause))

	assert.Equal(t, "invalid payload", e.Message)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "err: decode")
}
