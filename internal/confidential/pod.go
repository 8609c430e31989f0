package confidential

import (
	"encoding/hex"
	"fmt"
)

const (
	PubkeyLen            = 32
	ElGamalPubkeyLen     = 32
	ElGamalCiphertextLen = 64
	AeCiphertextLen      = 36
)

// Pubkey identifies a mint or a base token account.
type Pubkey [PubkeyLen]byte

// ElGamalPubkey is a compressed curve point.
type ElGamalPubkey [ElGamalPubkeyLen]byte

// ElGamalCiphertext is a (commitment, handle) pair of compressed curve points.
type ElGamalCiphertext [ElGamalCiphertextLen]byte

// AeCiphertext is the owner-decryptable encoding of an available balance.
type AeCiphertext [AeCiphertextLen]byte

func (p Pubkey) String() string            { return "0x" + hex.EncodeToString(p[:]) }
func (p ElGamalPubkey) String() string     { return "0x" + hex.EncodeToString(p[:]) }
func (c ElGamalCiphertext) String() string { return "0x" + hex.EncodeToString(c[:]) }
func (c AeCiphertext) String() string      { return "0x" + hex.EncodeToString(c[:]) }

// PodBool is a boolean persisted as exactly one byte. Only 0 and 1 are valid.
type PodBool uint8

const (
	PodFalse PodBool = 0
	PodTrue  PodBool = 1
)

func NewPodBool(v bool) PodBool {
	if v {
		return PodTrue
	}
	return PodFalse
}

func (b PodBool) Bool() bool { return b == PodTrue }

func (b PodBool) String() string {
	switch b {
	case PodFalse:
		return "false"
	case PodTrue:
		return "true"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(b))
	}
}

func parsePodBool(v byte) (PodBool, error) {
	switch PodBool(v) {
	case PodFalse, PodTrue:
		return PodBool(v), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, v)
	}
}
