package transfer

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
)

const testCeiling int64 = 5_000_000

func testLogger() logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Async = false
	cfg.Level = "error"
	return logging.NewLoggerFromConfig(cfg)
}

func testKey(t *testing.T, b byte) keys.SigningKey {
	t.Helper()
	k, err := keys.FromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	require.NoError(t, err)
	return k
}

func testFreshness() FreshnessToken {
	var h solana.Hash
	for i := range h {
		h[i] = byte(i + 1)
	}
	return FreshnessToken{Blockhash: h, LastValidBlockHeight: 1234, FetchedAt: time.Unix(1700000000, 0)}
}

func TestBuildSign_Deterministic(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	signer := NewSigner(testLogger())

	sender := testKey(t, 1)
	recipient := testKey(t, 2).Address()
	freshness := testFreshness()

	run := func() *SignedTransaction {
		decoded, err := keys.Decode(sender.Encode())
		require.NoError(t, err)
		unsigned, err := builder.Build(decoded, recipient, 1000, freshness)
		require.NoError(t, err)
		signed, err := signer.Sign(unsigned, decoded)
		require.NoError(t, err)
		return signed
	}

	first := run()
	second := run()

	require.Equal(t, first.Raw, second.Raw)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Signature().String(), first.ID)
	require.NoError(t, first.Tx.VerifySignatures())
	require.Equal(t, uint64(1234), first.LastValidBlockHeight)

	// A different freshness token produces a different transaction.
	other := freshness
	other.Blockhash[0] ^= 0xff
	unsigned, err := builder.Build(sender, recipient, 1000, other)
	require.NoError(t, err)
	signed, err := signer.Sign(unsigned, sender)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, signed.ID)
}

func TestBuild_TransferInstruction(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	sender := testKey(t, 1)
	recipient := testKey(t, 2).Address()

	unsigned, err := builder.Build(sender, recipient, 4242, testFreshness())
	require.NoError(t, err)

	require.Equal(t, testFreshness().Blockhash, unsigned.Tx.Message.RecentBlockhash)
	require.Equal(t, []keys.Address{sender.Address()}, unsigned.RequiredSigners())
	require.Len(t, unsigned.Tx.Message.Instructions, 1)

	compiled := unsigned.Tx.Message.Instructions[0]
	require.Equal(t, solana.SystemProgramID, unsigned.Tx.Message.AccountKeys[compiled.ProgramIDIndex])

	accounts, err := compiled.ResolveInstructionAccounts(&unsigned.Tx.Message)
	require.NoError(t, err)
	decoded, err := system.DecodeInstruction(accounts, compiled.Data)
	require.NoError(t, err)

	transferIx, ok := decoded.Impl.(*system.Transfer)
	require.True(t, ok)
	require.Equal(t, uint64(4242), *transferIx.Lamports)
	require.Equal(t, sender.Address(), transferIx.GetFundingAccount().PublicKey)
	require.Equal(t, recipient, transferIx.GetRecipientAccount().PublicKey)
}

func TestBuild_AmountBoundaries(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	sender := testKey(t, 1)
	recipient := testKey(t, 2).Address()

	tests := []struct {
		name    string
		amount  int64
		wantErr bool
	}{
		{name: "negative", amount: -1, wantErr: true},
		{name: "zero", amount: 0, wantErr: true},
		{name: "one", amount: 1},
		{name: "ceiling", amount: testCeiling},
		{name: "ceiling plus one", amount: testCeiling + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsigned, err := builder.Build(sender, recipient, tt.amount, testFreshness())
			if tt.wantErr {
				require.Nil(t, unsigned)
				require.Equal(t, errkind.InvalidAmount, errkind.Of(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, uint64(tt.amount), unsigned.AmountUnits)
		})
	}
}

func TestBuild_Rejections(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	sender := testKey(t, 1)

	_, err := builder.Build(sender, keys.Address{}, 10, testFreshness())
	require.Equal(t, errkind.InvalidRecipient, errkind.Of(err))

	_, err = builder.Build(sender, sender.Address(), 10, testFreshness())
	require.Equal(t, errkind.InvalidRecipient, errkind.Of(err))

	_, err = builder.Build(sender, testKey(t, 2).Address(), 10, FreshnessToken{})
	require.Equal(t, errkind.Internal, errkind.Of(err))

	_, err = builder.Build(keys.SigningKey{}, testKey(t, 2).Address(), 10, testFreshness())
	require.Equal(t, errkind.InvalidKeyFormat, errkind.Of(err))
}

func TestNewBuilder_DefaultCeiling(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{})
	require.Equal(t, DefaultAmountCeiling, builder.AmountCeiling())
}

func TestSign_FeePayerNeedsBothKeys(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	signer := NewSigner(testLogger())

	sender := testKey(t, 1)
	payer := testKey(t, 3)
	recipient := testKey(t, 2).Address()

	unsigned, err := builder.Build(sender, recipient, 100, testFreshness(), WithFeePayer(payer.Address()))
	require.NoError(t, err)
	require.Equal(t, []keys.Address{payer.Address(), sender.Address()}, unsigned.RequiredSigners())

	_, err = signer.Sign(unsigned, sender)
	require.Equal(t, errkind.SigningFailure, errkind.Of(err))

	// Key order does not matter.
	signed, err := signer.Sign(unsigned, sender, payer)
	require.NoError(t, err)
	require.Len(t, signed.Tx.Signatures, 2)
	require.NoError(t, signed.Tx.VerifySignatures())

	// The fee payer's signature is the transaction id.
	require.Equal(t, signed.Tx.Signatures[0].String(), signed.ID)
}

func TestSign_Failures(t *testing.T) {
	builder := NewBuilder(testLogger(), BuilderConfig{AmountCeiling: testCeiling})
	signer := NewSigner(testLogger())

	sender := testKey(t, 1)
	recipientKey := testKey(t, 2)

	unsigned, err := builder.Build(sender, recipientKey.Address(), 100, testFreshness())
	require.NoError(t, err)

	_, err = signer.Sign(unsigned)
	require.Equal(t, errkind.SigningFailure, errkind.Of(err))

	_, err = signer.Sign(unsigned, recipientKey)
	require.Equal(t, errkind.SigningFailure, errkind.Of(err))

	// A recipient co-signature is refused rather than attached.
	_, err = signer.Sign(unsigned, sender, recipientKey)
	require.Equal(t, errkind.SigningFailure, errkind.Of(err))
	require.NotContains(t, err.Error(), recipientKey.Encode())

	_, err = signer.Sign(unsigned, keys.SigningKey{})
	require.Equal(t, errkind.SigningFailure, errkind.Of(err))

	_, err = signer.Sign(nil, sender)
	require.Equal(t, errkind.Internal, errkind.Of(err))

	// The unsigned transfer is left untouched.
	require.Empty(t, unsigned.Tx.Signatures)
}
