package testutil

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/transfer"
)

func TestGenerateDeterministicBytes(t *testing.T) {
	a := GenerateDeterministicBytes(7, 100)
	b := GenerateDeterministicBytes(7, 100)
	c := GenerateDeterministicBytes(8, 100)

	require.Len(t, a, 100)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestKeyBuilder(t *testing.T) {
	k1 := NewKeyBuilder(1).Build()
	require.Equal(t, k1.Address(), NewKeyBuilder(1).Address())
	require.NotEqual(t, k1.Address(), NewKeyBuilder(2).Address())

	decoded, err := keys.Decode(NewKeyBuilder(1).Encoded())
	require.NoError(t, err)
	require.Equal(t, k1.Address(), decoded.Address())

	many := NewKeyBuilder(10).BuildN(3)
	require.Len(t, many, 3)
	require.Equal(t, NewKeyBuilder(12).Address(), many[2].Address())
}

func signedTransfer(t *testing.T, fc *FakeChain, amount int64) *transfer.SignedTransaction {
	t.Helper()
	ctx := context.Background()

	tok, err := fc.FetchFreshness(ctx)
	require.NoError(t, err)

	sender := NewKeyBuilder(1).Build()
	unsigned, err := transfer.NewBuilder(testLogger(), transfer.BuilderConfig{}).
		Build(sender, NewKeyBuilder(2).Address(), amount, tok)
	require.NoError(t, err)
	signed, err := transfer.NewSigner(testLogger()).Sign(unsigned, sender)
	require.NoError(t, err)
	return signed
}

func TestFakeChain_SubmitLands(t *testing.T) {
	fc := NewFakeChain()
	ctx := context.Background()
	tx := signedTransfer(t, fc, 10)

	id, err := fc.Submit(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID, id)

	status, err := fc.SignatureStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, status.Reached(chain.CommitmentFinalized))

	// Landed bytes are accepted again without a second landing.
	id, err = fc.Submit(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID, id)
	require.Len(t, fc.Submitted(), 1)
	require.Equal(t, 2, fc.SubmitCalls())
}

func TestFakeChain_Scripts(t *testing.T) {
	fc := NewFakeChain()
	ctx := context.Background()
	boom := errors.New("boom")

	fc.ScriptFreshness(boom)
	_, err := fc.FetchFreshness(ctx)
	require.ErrorIs(t, err, boom)

	tx := signedTransfer(t, fc, 10)

	fc.ScriptSubmit(boom, nil)
	_, err = fc.Submit(ctx, tx)
	require.ErrorIs(t, err, boom)
	require.Empty(t, fc.Submitted())

	_, err = fc.Submit(ctx, tx)
	require.NoError(t, err)
	require.Len(t, fc.Submitted(), 1)
}

func TestFakeChain_LandOnError(t *testing.T) {
	fc := NewFakeChain()
	fc.LandOnError(true)
	ctx := context.Background()
	tx := signedTransfer(t, fc, 10)

	boom := errors.New("response lost")
	fc.ScriptSubmit(boom)
	_, err := fc.Submit(ctx, tx)
	require.ErrorIs(t, err, boom)

	status, err := fc.SignatureStatus(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, status.Found)
}

func TestFakeChain_FailOnChain(t *testing.T) {
	fc := NewFakeChain()
	fc.FailOnChain(NewKeyBuilder(2).Address(), "InstructionError")
	ctx := context.Background()
	tx := signedTransfer(t, fc, 10)

	_, err := fc.Submit(ctx, tx)
	require.NoError(t, err)

	status, err := fc.SignatureStatus(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, status.Failed())
}

func TestFakeChain_FreshnessAndHeight(t *testing.T) {
	fc := NewFakeChain()
	ctx := context.Background()

	a, err := fc.FetchFreshness(ctx)
	require.NoError(t, err)
	b, err := fc.FetchFreshness(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a.Blockhash, b.Blockhash)
	require.Equal(t, uint64(1150), a.LastValidBlockHeight)

	fixed := transfer.FreshnessToken{Blockhash: solana.Hash{9}, LastValidBlockHeight: 5}
	fc.FixFreshness(fixed)
	c, err := fc.FetchFreshness(ctx)
	require.NoError(t, err)
	require.Equal(t, fixed, c)

	fc.SetBlockHeight(42)
	h, err := fc.BlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), h)

	require.NoError(t, fc.Health(ctx))
	fc.SetHealthError(errors.New("behind"))
	require.Error(t, fc.Health(ctx))
}

func testLogger() logging.Logger {
	return logging.NewLoggerWithWriter(logging.DefaultConfig(), io.Discard)
}
