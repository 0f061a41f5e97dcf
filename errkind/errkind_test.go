package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "nil error",
			err:  nil,
			want: KindNone,
		},
		{
			name: "typed error",
			err:  New(InvalidAmount, "build", "amount is zero"),
			want: InvalidAmount,
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("job 3: %w", New(Timeout, "submit", "deadline")),
			want: Timeout,
		},
		{
			name: "untyped error",
			err:  errors.New("boom"),
			want: Internal,
		},
		{
			name: "outermost kind wins",
			err:  Wrap(RejectedByChain, "submit", New(NetworkError, "rpc", "inner")),
			want: RejectedByChain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Of(tt.err))
		})
	}
}

func TestKind_IsRetryable(t *testing.T) {
	retryable := []Kind{NetworkError, Timeout, ServiceUnavailable}
	terminal := []Kind{
		InvalidKeyFormat, InvalidRecipient, InvalidAmount, SigningFailure,
		RejectedByChain, Cancelled, Internal, KindNone,
	}

	for _, k := range retryable {
		require.True(t, k.IsRetryable(), "%s should be retryable", k)
	}
	for _, k := range terminal {
		require.False(t, k.IsRetryable(), "%s should not be retryable", k)
	}
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(Timeout, "submit", nil))

	err := Wrap(Timeout, "submit", context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, Is(err, Timeout))
	require.True(t, IsRetryable(err))
	require.Equal(t, "submit: Timeout: context deadline exceeded", err.Error())
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "None", KindNone.String())
	require.Equal(t, "InvalidKeyFormat", InvalidKeyFormat.String())
}
