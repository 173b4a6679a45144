package room

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

const saltSize = 32

// passwordDigest is a keyed BLAKE2b-256 digest of a room password. The key is
// a random per-room salt, so equal passwords in different rooms never share a
// digest.
type passwordDigest struct {
	salt []byte
	sum  []byte
}

func newPasswordDigest(password string) (*passwordDigest, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	sum, err := digest(salt, password)
	if err != nil {
		return nil, err
	}
	return &passwordDigest{salt: salt, sum: sum}, nil
}

func (d *passwordDigest) matches(password string) bool {
	sum, err := digest(d.salt, password)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(sum, d.sum) == 1
}

func digest(salt []byte, password string) ([]byte, error) {
	h, err := blake2b.New256(salt)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(password))
	return h.Sum(nil), nil
}
