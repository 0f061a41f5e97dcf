package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/errkind"
)

func seededKey(t *testing.T, b byte) SigningKey {
	t.Helper()
	key, err := FromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	require.NoError(t, err)
	return key
}

func TestDecode_RoundTrip(t *testing.T) {
	key := seededKey(t, 7)

	decoded, err := Decode(key.Encode())
	require.NoError(t, err)
	require.Equal(t, key.Address(), decoded.Address())
	require.Equal(t, key.Fingerprint(), decoded.Fingerprint())

	// Surrounding whitespace from files and form fields is tolerated.
	decoded, err = Decode("  " + key.Encode() + "\n")
	require.NoError(t, err)
	require.Equal(t, key.Address(), decoded.Address())
}

func TestDecode_RejectsWrongLengths(t *testing.T) {
	lengths := []int{0, 1, 31, 32, 33, 63, 65, 96, 128}

	for _, n := range lengths {
		t.Run(fmt.Sprintf("%d_bytes", n), func(t *testing.T) {
			raw := make([]byte, n)
			for i := range raw {
				raw[i] = byte(i + 1)
			}
			encoded := base58.Encode(raw)

			_, err := Decode(encoded)
			require.Error(t, err)
			require.Equal(t, errkind.InvalidKeyFormat, errkind.Of(err))
			if len(encoded) > 4 {
				require.NotContains(t, err.Error(), encoded)
			}
		})
	}
}

func TestDecode_RejectsMalformedEncoding(t *testing.T) {
	inputs := []string{
		"0OIl0OIl",             // characters outside the base58 alphabet
		"not a key at all",     // spaces
		"   ",                  // blank
		"4vJ9JU1bJJE96FWSJKvH", // valid base58, wrong length
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Decode(in)
			require.Error(t, err)
			require.True(t, errkind.Is(err, errkind.InvalidKeyFormat))
			if len(in) > 3 {
				require.NotContains(t, err.Error(), in)
			}
		})
	}
}

func TestDecode_RejectsMismatchedPublicHalf(t *testing.T) {
	key := seededKey(t, 3)
	other := seededKey(t, 4)

	raw, err := base58.Decode(key.Encode())
	require.NoError(t, err)
	otherRaw, err := base58.Decode(other.Encode())
	require.NoError(t, err)
	copy(raw[32:], otherRaw[32:])

	_, err = Decode(base58.Encode(raw))
	require.True(t, errkind.Is(err, errkind.InvalidKeyFormat))
	require.Contains(t, err.Error(), "does not match")
}

func TestSigningKey_NeverRendersSecret(t *testing.T) {
	key := seededKey(t, 9)
	encoded := key.Encode()

	renderings := []string{
		key.String(),
		fmt.Sprintf("%v", key),
		fmt.Sprintf("%+v", key),
		fmt.Sprintf("%#v", key),
		fmt.Sprintf("%s", key),
	}
	js, err := json.Marshal(map[string]interface{}{"key": key})
	require.NoError(t, err)
	renderings = append(renderings, string(js))

	for _, r := range renderings {
		require.NotContains(t, r, encoded)
		require.Contains(t, r, key.Fingerprint())
	}
}

func TestSigningKey_SignIsDeterministic(t *testing.T) {
	key := seededKey(t, 5)
	payload := []byte("message")

	sig1, err := key.Sign(payload)
	require.NoError(t, err)
	sig2, err := key.Sign(payload)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)
	require.True(t, ed25519.Verify(key.Address().Bytes(), payload, sig1[:]))

	_, err = SigningKey{}.Sign(payload)
	require.True(t, errkind.Is(err, errkind.SigningFailure))
}

func TestFromSeed_RejectsBadSeed(t *testing.T) {
	_, err := FromSeed([]byte{1, 2, 3})
	require.True(t, errkind.Is(err, errkind.InvalidKeyFormat))
}

func TestParseAddress(t *testing.T) {
	key := seededKey(t, 1)

	addr, err := ParseAddress(key.Address().String())
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)

	for _, bad := range []string{"", "abc", "0OIl", key.Encode()} {
		_, err := ParseAddress(bad)
		require.True(t, errkind.Is(err, errkind.InvalidRecipient), "input %q", bad)
	}
}

func TestResolveRecipient(t *testing.T) {
	key := seededKey(t, 2)

	addr, err := ResolveRecipient(key.Address().String())
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)

	addr, err = ResolveRecipient(key.Encode())
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)

	_, err = ResolveRecipient("definitely-not-an-address")
	require.True(t, errkind.Is(err, errkind.InvalidRecipient))
}

func TestFingerprint(t *testing.T) {
	a := seededKey(t, 1)
	b := seededKey(t, 2)

	require.True(t, IsFingerprint(a.Fingerprint()))
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	require.Equal(t, a.Fingerprint(), seededKey(t, 1).Fingerprint())
	require.NotContains(t, a.Fingerprint(), a.Encode())

	require.Equal(t, FingerprintEncoded("garbage"), FingerprintEncoded(" garbage "))
	require.True(t, IsFingerprint(FingerprintEncoded("garbage")))
	require.False(t, IsFingerprint("fp_zz"))
	require.False(t, IsFingerprint("abc"))
}
