// Package elgamal implements exponential (additively homomorphic) ElGamal on
// the BabyJubjub curve. Points are stored in their 32-byte compressed form, so
// a public key fits confidential.ElGamalPubkey and a ciphertext fits
// confidential.ElGamalCiphertext.
package elgamal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
)

const SecretKeyLen = 32

var (
	ErrInvalidPoint     = errors.New("elgamal: invalid point")
	ErrInvalidSecretKey = errors.New("elgamal: invalid secret key")
)

var zeroCiphertext = func() confidential.ElGamalCiphertext {
	id := babyjub.NewPoint().Compress()
	var out confidential.ElGamalCiphertext
	copy(out[:32], id[:])
	copy(out[32:], id[:])
	return out
}()

// SecretKey is a scalar in [1, SubOrder).
type SecretKey struct {
	s *big.Int
}

func GenerateKey(r io.Reader) (*SecretKey, error) {
	if r == nil {
		r = rand.Reader
	}
	for {
		s, err := rand.Int(r, babyjub.SubOrder)
		if err != nil {
			return nil, fmt.Errorf("elgamal: sample scalar: %w", err)
		}
		if s.Sign() != 0 {
			return &SecretKey{s: s}, nil
		}
	}
}

// ParseSecretKey decodes a 32-byte big-endian scalar.
func ParseSecretKey(b []byte) (*SecretKey, error) {
	if len(b) != SecretKeyLen {
		return nil, fmt.Errorf("%w: got %d bytes want %d", ErrInvalidSecretKey, len(b), SecretKeyLen)
	}
	s := new(big.Int).SetBytes(b)
	if s.Sign() == 0 || s.Cmp(babyjub.SubOrder) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidSecretKey)
	}
	return &SecretKey{s: s}, nil
}

func (k *SecretKey) Bytes() [SecretKeyLen]byte {
	var out [SecretKeyLen]byte
	k.s.FillBytes(out[:])
	return out
}

func (k *SecretKey) PublicKey() confidential.ElGamalPubkey {
	return confidential.ElGamalPubkey(babyjub.NewPoint().Mul(k.s, babyjub.B8).Compress())
}

// Encrypt encrypts amount under pk with fresh randomness.
//
// Layout:
//
//	commitment[32] = amount*B8 + r*PK
//	handle[32]     = r*B8
func Encrypt(pk confidential.ElGamalPubkey, amount uint64) (confidential.ElGamalCiphertext, error) {
	r, err := rand.Int(rand.Reader, babyjub.SubOrder)
	if err != nil {
		return confidential.ElGamalCiphertext{}, fmt.Errorf("elgamal: sample randomness: %w", err)
	}
	return EncryptWithRandomness(pk, amount, r)
}

func EncryptWithRandomness(pk confidential.ElGamalPubkey, amount uint64, r *big.Int) (confidential.ElGamalCiphertext, error) {
	pkPoint, err := decompress([32]byte(pk))
	if err != nil {
		return confidential.ElGamalCiphertext{}, fmt.Errorf("public key: %w", err)
	}
	m := babyjub.NewPoint().Mul(new(big.Int).SetUint64(amount), babyjub.B8)
	shared := babyjub.NewPoint().Mul(r, pkPoint)
	commitment := add(m, shared)
	handle := babyjub.NewPoint().Mul(r, babyjub.B8)
	return pack(commitment, handle), nil
}

// EncodeAmount encrypts a publicly known amount with zero randomness. The
// result is valid under every public key and is what deposits credit.
func EncodeAmount(amount uint64) confidential.ElGamalCiphertext {
	m := babyjub.NewPoint().Mul(new(big.Int).SetUint64(amount), babyjub.B8)
	return pack(m, babyjub.NewPoint())
}

// DecryptPoint returns amount*B8 for the encrypted amount.
func (k *SecretKey) DecryptPoint(ct confidential.ElGamalCiphertext) (*babyjub.Point, error) {
	commitment, handle, err := unpack(ct)
	if err != nil {
		return nil, err
	}
	negS := new(big.Int).Sub(babyjub.SubOrder, k.s)
	return add(commitment, babyjub.NewPoint().Mul(negS, handle)), nil
}

// Decrypt recovers the amount by a bounded discrete log.
func (k *SecretKey) Decrypt(ct confidential.ElGamalCiphertext, dl *DiscreteLog) (uint64, error) {
	m, err := k.DecryptPoint(ct)
	if err != nil {
		return 0, err
	}
	return dl.Solve(m)
}

// Algebra is the confidential.CiphertextAlgebra over BabyJubjub ciphertexts.
type Algebra struct{}

func (Algebra) Add(a, b confidential.ElGamalCiphertext) (confidential.ElGamalCiphertext, error) {
	ac, ah, err := unpack(a)
	if err != nil {
		return confidential.ElGamalCiphertext{}, err
	}
	bc, bh, err := unpack(b)
	if err != nil {
		return confidential.ElGamalCiphertext{}, err
	}
	return pack(add(ac, bc), add(ah, bh)), nil
}

func (Algebra) Zero() confidential.ElGamalCiphertext {
	return zeroCiphertext
}

var _ confidential.CiphertextAlgebra = Algebra{}

func add(a, b *babyjub.Point) *babyjub.Point {
	return babyjub.NewPoint().Projective().Add(a.Projective(), b.Projective()).Affine()
}

func pack(commitment, handle *babyjub.Point) confidential.ElGamalCiphertext {
	var out confidential.ElGamalCiphertext
	c := commitment.Compress()
	h := handle.Compress()
	copy(out[:32], c[:])
	copy(out[32:], h[:])
	return out
}

func unpack(ct confidential.ElGamalCiphertext) (*babyjub.Point, *babyjub.Point, error) {
	var c, h [32]byte
	copy(c[:], ct[:32])
	copy(h[:], ct[32:])
	commitment, err := decompress(c)
	if err != nil {
		return nil, nil, fmt.Errorf("commitment: %w", err)
	}
	handle, err := decompress(h)
	if err != nil {
		return nil, nil, fmt.Errorf("handle: %w", err)
	}
	return commitment, handle, nil
}

func decompress(b [32]byte) (*babyjub.Point, error) {
	p, err := babyjub.NewPoint().Decompress(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return p, nil
}
