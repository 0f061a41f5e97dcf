package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/errkind"
)

type fakeNetTimeout struct{}

func (fakeNetTimeout) Error() string   { return "i/o timeout" }
func (fakeNetTimeout) Timeout() bool   { return true }
func (fakeNetTimeout) Temporary() bool { return true }

var _ net.Error = fakeNetTimeout{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errkind.Kind
	}{
		{name: "nil", err: nil, want: errkind.KindNone},
		{name: "typed passthrough", err: errkind.New(errkind.InvalidAmount, "build", "x"), want: errkind.InvalidAmount},
		{name: "deadline", err: fmt.Errorf("rpc call: %w", context.DeadlineExceeded), want: errkind.Timeout},
		{name: "cancelled", err: context.Canceled, want: errkind.Cancelled},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: fakeNetTimeout{}}, want: errkind.Timeout},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: errkind.NetworkError},
		{name: "eof", err: fmt.Errorf("rpc call: %w", io.ErrUnexpectedEOF), want: errkind.NetworkError},
		{name: "preflight", err: &jsonrpc.RPCError{Code: -32002, Message: "simulation failed"}, want: errkind.RejectedByChain},
		{name: "sig verify", err: &jsonrpc.RPCError{Code: -32003, Message: "bad sig"}, want: errkind.RejectedByChain},
		{name: "unhealthy", err: &jsonrpc.RPCError{Code: -32005, Message: "behind"}, want: errkind.ServiceUnavailable},
		{name: "rpc internal", err: &jsonrpc.RPCError{Code: -32603, Message: "internal"}, want: errkind.ServiceUnavailable},
		{name: "http 429", err: &jsonrpc.HTTPError{Code: http.StatusTooManyRequests}, want: errkind.ServiceUnavailable},
		{name: "http 502", err: &jsonrpc.HTTPError{Code: http.StatusBadGateway}, want: errkind.ServiceUnavailable},
		{name: "http 504", err: &jsonrpc.HTTPError{Code: http.StatusGatewayTimeout}, want: errkind.Timeout},
		{name: "http 401", err: &jsonrpc.HTTPError{Code: http.StatusUnauthorized}, want: errkind.RejectedByChain},
		{name: "unknown", err: errors.New("could not decode body"), want: errkind.NetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, errkind.Of(Classify("op", tt.err)))
		})
	}
}

func TestClassify_AlreadyProcessed(t *testing.T) {
	err := Classify("submit", &jsonrpc.RPCError{Code: -32002, Message: "This transaction has already been processed"})
	require.True(t, IsAlreadyProcessed(err))
	require.True(t, errors.Is(err, ErrAlreadyProcessed))
	require.False(t, IsAlreadyProcessed(nil))
	require.False(t, IsAlreadyProcessed(errors.New("blockhash not found")))
}

func TestParseCommitment(t *testing.T) {
	c, err := ParseCommitment(" Finalized ")
	require.NoError(t, err)
	require.Equal(t, CommitmentFinalized, c)

	_, err = ParseCommitment("rooted")
	require.Error(t, err)
}

func TestStatus_Reached(t *testing.T) {
	s := Status{Found: true, Confirmation: CommitmentConfirmed}
	require.True(t, s.Reached(CommitmentProcessed))
	require.True(t, s.Reached(CommitmentConfirmed))
	require.False(t, s.Reached(CommitmentFinalized))
	require.False(t, Status{}.Reached(CommitmentProcessed))

	failed := Status{Found: true, Confirmation: CommitmentFinalized, Err: "InstructionError"}
	require.True(t, failed.Failed())
	require.False(t, failed.Reached(CommitmentProcessed))
}

func TestFreshnessCache(t *testing.T) {
	inner := &scriptedClient{}
	cache := NewFreshnessCache(testLogger(), inner, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	first, err := cache.FetchFreshness(context.Background())
	require.NoError(t, err)
	second, err := cache.FetchFreshness(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.fetchCalls)

	now = now.Add(2 * time.Minute)
	_, err = cache.FetchFreshness(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, inner.fetchCalls)

	cache.Invalidate()
	_, err = cache.FetchFreshness(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, inner.fetchCalls)

	// Other methods pass through.
	height, err := cache.BlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(50), height)
}

func TestFreshnessCache_ZeroWindow(t *testing.T) {
	inner := &scriptedClient{}
	cache := NewFreshnessCache(testLogger(), inner, 0)

	for i := 0; i < 3; i++ {
		_, err := cache.FetchFreshness(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 3, inner.fetchCalls)
}

func TestFreshnessCache_ErrorNotCached(t *testing.T) {
	inner := &scriptedClient{fetchErrs: []error{errkind.New(errkind.NetworkError, "fetch_freshness", "down"), nil}}
	cache := NewFreshnessCache(testLogger(), inner, time.Minute)

	_, err := cache.FetchFreshness(context.Background())
	require.Equal(t, errkind.NetworkError, errkind.Of(err))

	token, err := cache.FetchFreshness(context.Background())
	require.NoError(t, err)
	require.False(t, token.IsZero())
}

func TestWaitForConfirmation(t *testing.T) {
	cfg := ConfirmConfig{Commitment: CommitmentConfirmed, PollInterval: time.Millisecond}

	t.Run("confirmed after pending polls", func(t *testing.T) {
		inner := &scriptedClient{statuses: []Status{
			{},
			{Found: true, Confirmation: CommitmentProcessed},
			{Found: true, Confirmation: CommitmentConfirmed},
		}}
		require.NoError(t, WaitForConfirmation(context.Background(), inner, "id", cfg))
		require.Equal(t, 3, inner.statusCalls)
	})

	t.Run("failed on chain", func(t *testing.T) {
		inner := &scriptedClient{statuses: []Status{{Found: true, Confirmation: CommitmentConfirmed, Err: "InstructionError"}}}
		err := WaitForConfirmation(context.Background(), inner, "id", cfg)
		require.Equal(t, errkind.RejectedByChain, errkind.Of(err))
	})

	t.Run("deadline", func(t *testing.T) {
		inner := &scriptedClient{statuses: []Status{{}}}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := WaitForConfirmation(ctx, inner, "id", cfg)
		require.Equal(t, errkind.Timeout, errkind.Of(err))
	})
}
