package vault

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLen   = 32
	saltLen  = 16
	nonceLen = 24
)

// ErrDecrypt is returned when a sealed value cannot be opened with the
// current key.
var ErrDecrypt = errors.New("vault: decryption failed")

// kdfParams are the argon2id cost parameters.
type kdfParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

var defaultKDF = kdfParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// keyring holds the derived secretbox key.
type keyring struct {
	key [keyLen]byte
}

func deriveKey(passphrase string, salt []byte, p kdfParams) *keyring {
	k := &keyring{}
	copy(k.key[:], argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, keyLen))
	return k
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// seal encrypts plain and returns nonce||box.
func (k *keyring) seal(plain []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &k.key), nil
}

// open reverses seal.
func (k *keyring) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLen+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	plain, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, &k.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
