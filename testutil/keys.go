package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/solrelay/transfer-relay/keys"
)

// GenerateDeterministicBytes returns n bytes derived from seed. The same seed
// always yields the same bytes.
func GenerateDeterministicBytes(seed int, n int) []byte {
	out := make([]byte, 0, n)
	var counter uint64
	for len(out) < n {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[:8], uint64(seed))
		binary.BigEndian.PutUint64(buf[8:], counter)
		sum := sha256.Sum256(buf[:])
		out = append(out, sum[:]...)
		counter++
	}
	return out[:n]
}

// KeyBuilder builds deterministic signing keys for tests.
//
// Usage:
//
//	sender := testutil.NewKeyBuilder(1).Build()
//	encoded := testutil.NewKeyBuilder(1).Encoded()
type KeyBuilder struct {
	seed int
}

// NewKeyBuilder creates a KeyBuilder for seed.
func NewKeyBuilder(seed int) *KeyBuilder {
	return &KeyBuilder{seed: seed}
}

// Build returns the signing key for the builder's seed.
func (b *KeyBuilder) Build() keys.SigningKey {
	key, err := keys.FromSeed(GenerateDeterministicBytes(b.seed, 32))
	if err != nil {
		panic(fmt.Sprintf("testutil: failed to derive key from seed %d: %v", b.seed, err))
	}
	return key
}

// Encoded returns the base58 form of the key.
func (b *KeyBuilder) Encoded() string {
	return b.Build().Encode()
}

// Address returns the key's address.
func (b *KeyBuilder) Address() keys.Address {
	return b.Build().Address()
}

// BuildN returns n keys with seeds seed, seed+1, ...
func (b *KeyBuilder) BuildN(n int) []keys.SigningKey {
	out := make([]keys.SigningKey, n)
	for i := range out {
		out[i] = NewKeyBuilder(b.seed + i).Build()
	}
	return out
}

// RandomSigningKey draws a key from rng.
func RandomSigningKey(rng *rand.Rand) keys.SigningKey {
	return NewKeyBuilder(rng.Int()).Build()
}
