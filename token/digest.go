package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-idp-server/internal/config"
	"github.com/pkg/errors"
)

const randomBytesLength = 32

// GenerateRaw returns a 64 character lowercase hex value derived from random
// bytes combined with a fresh UUID.
func GenerateRaw() (string, error) {
	buf := make([]byte, randomBytesLength, randomBytesLength+16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[GenerateRaw] reading random bytes")
	}
	id := uuid.New()
	buf = append(buf, id[:]...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Digest is the one-way transform applied to a raw value before storage.
func Digest(alg config.HashAlgorithm, raw string) string {
	var h hash.Hash
	switch alg {
	case config.HashSHA384:
		h = sha512.New384()
	case config.HashSHA512:
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
