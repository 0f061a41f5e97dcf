// Package keys decodes externally supplied secret keys into signing keys,
// parses account addresses and derives log-safe key fingerprints.
//
// A SigningKey never renders its secret: String, GoString and MarshalText all
// produce the key's fingerprint, so a key accidentally handed to a logger or
// encoder cannot leak.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/solrelay/transfer-relay/errkind"
)

const (
	// SecretKeySize is the length of a decoded secret key: a 32-byte ed25519
	// seed followed by the 32-byte public key (the wallet export format).
	SecretKeySize = ed25519.PrivateKeySize

	// AddressSize is the length of a decoded account address.
	AddressSize = ed25519.PublicKeySize
)

// Address is a chain account public key. It is comparable by value and its
// String form is base58.
type Address = solana.PublicKey

// SigningKey is a decoded 64-byte secret key.
// The zero value is not a usable key.
type SigningKey struct {
	key         solana.PrivateKey
	fingerprint string
}

// Decode decodes a base58 secret key. Any input that is not exactly
// SecretKeySize bytes, or whose public half does not match its seed, fails with
// errkind.InvalidKeyFormat. Error messages never contain the input.
func Decode(encoded string) (SigningKey, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return SigningKey{}, decodeFailure(reasonEmpty, "encoded key is empty")
	}

	raw, err := base58.Decode(trimmed)
	if err != nil {
		// The base58 error names the offending character, so it is not wrapped.
		return SigningKey{}, decodeFailure(reasonEncoding, "encoded key is not valid base58")
	}

	if len(raw) != SecretKeySize {
		n := len(raw)
		wipe(raw)
		return SigningKey{}, decodeFailure(reasonLength,
			fmt.Sprintf("decoded key is %d bytes, expected %d", n, SecretKeySize))
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		wipe(raw)
		wipe(derived)
		return SigningKey{}, decodeFailure(reasonMismatch, "public half of key does not match its seed")
	}
	wipe(derived)

	keysDecodedTotal.Inc()
	return SigningKey{
		key:         solana.PrivateKey(raw),
		fingerprint: fingerprintSecret(raw),
	}, nil
}

// FromSeed builds a SigningKey from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SigningKey{}, errkind.New(errkind.InvalidKeyFormat, "decode",
			fmt.Sprintf("seed is %d bytes, expected %d", len(seed), ed25519.SeedSize))
	}
	raw := []byte(ed25519.NewKeyFromSeed(seed))
	return SigningKey{
		key:         solana.PrivateKey(raw),
		fingerprint: fingerprintSecret(raw),
	}, nil
}

// Encode returns the base58 form of the key. It exists for tooling and tests
// that must produce key material; pipeline code never calls it.
func (k SigningKey) Encode() string {
	return base58.Encode(k.key)
}

// Address returns the account address controlled by the key.
func (k SigningKey) Address() Address {
	return k.key.PublicKey()
}

// Fingerprint returns the log-safe identifier of the key.
func (k SigningKey) Fingerprint() string {
	return k.fingerprint
}

// IsZero reports whether k is the zero SigningKey.
func (k SigningKey) IsZero() bool {
	return len(k.key) == 0
}

// Sign signs payload with the key. ed25519 signatures are deterministic.
func (k SigningKey) Sign(payload []byte) (solana.Signature, error) {
	if k.IsZero() {
		return solana.Signature{}, errkind.New(errkind.SigningFailure, "sign", "signing key is empty")
	}
	return k.key.Sign(payload)
}

// String implements fmt.Stringer without exposing the secret.
func (k SigningKey) String() string {
	return "SigningKey(" + k.fingerprint + ")"
}

// GoString implements fmt.GoStringer so %#v cannot print the secret.
func (k SigningKey) GoString() string {
	return k.String()
}

// MarshalText renders the fingerprint, so JSON and zerolog encoders never see
// the secret.
func (k SigningKey) MarshalText() ([]byte, error) {
	return []byte(k.fingerprint), nil
}

// ParseAddress parses a base58 account address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Address{}, errkind.New(errkind.InvalidRecipient, "parse_address", "address is empty")
	}
	addr, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return Address{}, errkind.New(errkind.InvalidRecipient, "parse_address", "address is not a valid base58 public key")
	}
	return addr, nil
}

// ResolveRecipient accepts either an account address or an encoded secret key
// and returns the address. The secret form is reduced to its address at once
// and never retained.
func ResolveRecipient(s string) (Address, error) {
	addr, err := ParseAddress(s)
	if err == nil {
		return addr, nil
	}

	trimmed := strings.TrimSpace(s)
	raw, decodeErr := base58.Decode(trimmed)
	if decodeErr != nil || len(raw) != SecretKeySize {
		wipe(raw)
		return Address{}, err
	}
	wipe(raw)

	key, keyErr := Decode(trimmed)
	if keyErr != nil {
		return Address{}, errkind.New(errkind.InvalidRecipient, "parse_address", "recipient key is malformed")
	}
	return key.Address(), nil
}

func decodeFailure(reason, msg string) error {
	decodeFailuresTotal.WithLabelValues(reason).Inc()
	return errkind.New(errkind.InvalidKeyFormat, "decode", msg)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
