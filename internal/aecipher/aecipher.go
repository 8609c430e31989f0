// Package aecipher seals the owner-decryptable balance cache stored on an
// account. A ciphertext is exactly confidential.AeCiphertextLen bytes.
package aecipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Layout (36 bytes):
//
//	[0..12)  nonce
//	[12..20) amount (u64 LE), sealed
//	[20..36) poly1305 tag
const (
	KeyLen = chacha20poly1305.KeySize

	nonceLen  = chacha20poly1305.NonceSize
	amountLen = 8
)

const hkdfInfo = "confidential-ledger/ae-key/v1"

var (
	ErrInvalidKey = errors.New("aecipher: invalid key")
	ErrOpen       = errors.New("aecipher: authentication failed")
)

type Key [KeyLen]byte

// DeriveKey expands owner secret material into an AE key. The same secret
// always yields the same key.
func DeriveKey(secret []byte) (Key, error) {
	if len(secret) == 0 {
		return Key{}, fmt.Errorf("%w: empty secret", ErrInvalidKey)
	}
	var k Key
	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, fmt.Errorf("aecipher: derive key: %w", err)
	}
	return k, nil
}

func ParseKey(b []byte) (Key, error) {
	if len(b) != KeyLen {
		return Key{}, fmt.Errorf("%w: got %d bytes want %d", ErrInvalidKey, len(b), KeyLen)
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

func (k Key) Encrypt(amount uint64) (confidential.AeCiphertext, error) {
	return k.encrypt(rand.Reader, amount)
}

func (k Key) encrypt(r io.Reader, amount uint64) (confidential.AeCiphertext, error) {
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return confidential.AeCiphertext{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var out confidential.AeCiphertext
	if _, err := io.ReadFull(r, out[:nonceLen]); err != nil {
		return confidential.AeCiphertext{}, fmt.Errorf("aecipher: nonce: %w", err)
	}
	var pt [amountLen]byte
	binary.LittleEndian.PutUint64(pt[:], amount)
	aead.Seal(out[nonceLen:nonceLen], out[:nonceLen], pt[:], nil)
	return out, nil
}

func (k Key) Decrypt(ct confidential.AeCiphertext) (uint64, error) {
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pt, err := aead.Open(nil, ct[:nonceLen], ct[nonceLen:], nil)
	if err != nil {
		return 0, ErrOpen
	}
	if len(pt) != amountLen {
		return 0, ErrOpen
	}
	return binary.LittleEndian.Uint64(pt), nil
}
