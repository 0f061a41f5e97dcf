package keys

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	fingerprintPrefix = "fp_"
	fingerprintBytes  = 10
)

var (
	secretFingerprintKey  = []byte("transfer-relay/secret-key/v1")
	encodedFingerprintKey = []byte("transfer-relay/encoded-input/v1")
)

// FingerprintEncoded derives a fingerprint from raw credential text. It is
// used to identify inputs that could not be decoded, so a malformed sender can
// still be correlated across log lines without echoing it. Valid keys should
// be identified with SigningKey.Fingerprint instead.
func FingerprintEncoded(encoded string) string {
	return fingerprint(encodedFingerprintKey, []byte(strings.TrimSpace(encoded)))
}

// IsFingerprint reports whether s has the shape of a fingerprint.
func IsFingerprint(s string) bool {
	if !strings.HasPrefix(s, fingerprintPrefix) {
		return false
	}
	_, err := hex.DecodeString(s[len(fingerprintPrefix):])
	return err == nil && len(s) == len(fingerprintPrefix)+2*fingerprintBytes
}

func fingerprintSecret(secret []byte) string {
	return fingerprint(secretFingerprintKey, secret)
}

// fingerprint is a keyed blake2b-256 digest truncated to fingerprintBytes.
func fingerprint(domain, data []byte) string {
	h, err := blake2b.New256(domain)
	if err != nil {
		// Only reachable with a domain key longer than 64 bytes.
		panic(err)
	}
	_, _ = h.Write(data)
	sum := h.Sum(nil)
	return fingerprintPrefix + hex.EncodeToString(sum[:fingerprintBytes])
}
