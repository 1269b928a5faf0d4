package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindRoundTrip(t *testing.T) {
	for k := KindUnknown; k <= KindInvalid; k++ {
		require.Equal(t, k, ParseKind(k.String()))
	}
	require.Equal(t, KindUnknown, ParseKind("nope"))
}

func TestKindOf(t *testing.T) {
	base := New(KindAuthorizationDenied, "submit", "caller is not validator")
	wrapped := fmt.Errorf("process 42: %w", base)

	require.Equal(t, KindAuthorizationDenied, KindOf(wrapped))
	require.True(t, Is(wrapped, KindAuthorizationDenied))
	require.False(t, IsRetryable(wrapped))

	require.Equal(t, KindTimedOut, KindOf(fmt.Errorf("poll: %w", context.DeadlineExceeded)))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransient, "verifier.prepare", cause, "post prepareRequest").
		WithContext("status", 502)

	require.Equal(t, "verifier.prepare: transient: post prepareRequest: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
	require.Equal(t, 502, err.Context["status"])
	require.True(t, IsRetryable(err))
}

func TestEnsure(t *testing.T) {
	require.NoError(t, Ensure(nil, KindTransient, "op"))

	classified := New(KindDecode, "decode", "bad")
	require.Same(t, classified, Ensure(classified, KindTransient, "op"))

	require.Equal(t, KindTransient, KindOf(Ensure(errors.New("eof"), KindTransient, "op")))
	require.Equal(t, KindTimedOut, KindOf(Ensure(context.DeadlineExceeded, KindTransient, "op")))
}
