package credential

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the shortest configured secret accepted for key derivation.
const MinSecretSize = 32

var ErrSecretTooShort = errors.New("secret must be at least 32 bytes")

// DeriveKey expands secret into a size-byte key bound to purpose with
// HKDF-SHA256. Different purposes yield independent keys from one secret.
func DeriveKey(secret []byte, purpose string, size int) ([]byte, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrSecretTooShort
	}
	if size <= 0 {
		return nil, errors.New("derived key size must be > 0")
	}

	r := hkdf.New(sha256.New, secret, nil, []byte("trustgate/"+purpose))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
