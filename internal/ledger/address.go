package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"golang.org/x/crypto/sha3"
)

const accountAddressPrefixV1 = "confidential-account"

// Address identifies one confidential account record.
type Address [32]byte

// AccountAddress derives the record address of the confidential account
// attached to tokenAccount.
//
//	address = keccak256("confidential-account" || mint || tokenAccount)
func AccountAddress(mint, tokenAccount confidential.Pubkey) Address {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(accountAddressPrefixV1))
	_, _ = h.Write(mint[:])
	_, _ = h.Write(tokenAccount[:])

	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// AddressOf is AccountAddress for an existing account.
func AddressOf(a *confidential.Account) Address {
	return AccountAddress(a.Mint, a.TokenAccount)
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// ParseAddress accepts 64 hex characters with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(s) != 64 {
		return Address{}, fmt.Errorf("ledger: address: expected 32-byte hex, got len %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("ledger: address: decode hex: %w", err)
	}
	var out Address
	copy(out[:], b)
	return out, nil
}

// ParsePubkey is ParseAddress for a 32-byte public key.
func ParsePubkey(s string) (confidential.Pubkey, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return confidential.Pubkey{}, err
	}
	return confidential.Pubkey(a), nil
}
