package confidential

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	AuditorLen = 65
	AccountLen = 285
)

var (
	ErrInvalidLength = errors.New("confidential: invalid layout length")
	ErrInvalidBool   = errors.New("confidential: invalid bool byte")
)

const (
	auditorMintOffset    = 0
	auditorEnabledOffset = auditorMintOffset + PubkeyLen
	auditorPKOffset      = auditorEnabledOffset + 1
)

const (
	accountMintOffset         = 0
	accountTokenAccountOffset = accountMintOffset + PubkeyLen
	accountPKOffset           = accountTokenAccountOffset + PubkeyLen
	accountPendingOffset      = accountPKOffset + ElGamalPubkeyLen
	accountAvailableOffset    = accountPendingOffset + ElGamalCiphertextLen
	accountDecryptableOffset  = accountAvailableOffset + ElGamalCiphertextLen
	accountAllowOffset        = accountDecryptableOffset + AeCiphertextLen
	accountCounterOffset      = accountAllowOffset + 1
	accountExpectedOffset     = accountCounterOffset + 8
	accountActualOffset       = accountExpectedOffset + 8
)

// Encode returns the persisted 65-byte Auditor layout.
//
// Layout (integers little-endian, no padding):
//
//	mint[32]
//	enabled[1] = 0x00 | 0x01
//	elgamalPk[32]
func (a Auditor) Encode() [AuditorLen]byte {
	var out [AuditorLen]byte
	copy(out[auditorMintOffset:auditorEnabledOffset], a.Mint[:])
	out[auditorEnabledOffset] = byte(a.Enabled)
	copy(out[auditorPKOffset:], a.ElGamalPK[:])
	return out
}

// ParseAuditor decodes a 65-byte Auditor layout. Any enabled byte other than
// 0 or 1 is rejected.
func ParseAuditor(b []byte) (Auditor, error) {
	if len(b) != AuditorLen {
		return Auditor{}, fmt.Errorf("%w: auditor got %d want %d", ErrInvalidLength, len(b), AuditorLen)
	}
	enabled, err := parsePodBool(b[auditorEnabledOffset])
	if err != nil {
		return Auditor{}, fmt.Errorf("auditor enabled: %w", err)
	}

	var a Auditor
	copy(a.Mint[:], b[auditorMintOffset:auditorEnabledOffset])
	a.Enabled = enabled
	copy(a.ElGamalPK[:], b[auditorPKOffset:])
	return a, nil
}

// Encode returns the persisted 285-byte Account layout.
//
// Layout (integers little-endian, no padding):
//
//	mint[32]
//	tokenAccount[32]
//	elgamalPk[32]
//	pendingBalance[64]
//	availableBalance[64]
//	decryptableBalance[36]
//	allowPendingBalanceCredits[1] = 0x00 | 0x01
//	pendingBalanceCreditCounter[8]
//	expectedPendingBalanceCreditCounter[8]
//	actualPendingBalanceCreditCounter[8]
func (a Account) Encode() [AccountLen]byte {
	var out [AccountLen]byte
	copy(out[accountMintOffset:accountTokenAccountOffset], a.Mint[:])
	copy(out[accountTokenAccountOffset:accountPKOffset], a.TokenAccount[:])
	copy(out[accountPKOffset:accountPendingOffset], a.ElGamalPK[:])
	copy(out[accountPendingOffset:accountAvailableOffset], a.PendingBalance[:])
	copy(out[accountAvailableOffset:accountDecryptableOffset], a.AvailableBalance[:])
	copy(out[accountDecryptableOffset:accountAllowOffset], a.DecryptableBalance[:])
	out[accountAllowOffset] = byte(a.AllowPendingBalanceCredits)
	binary.LittleEndian.PutUint64(out[accountCounterOffset:accountExpectedOffset], a.PendingBalanceCreditCounter)
	binary.LittleEndian.PutUint64(out[accountExpectedOffset:accountActualOffset], a.ExpectedPendingBalanceCreditCounter)
	binary.LittleEndian.PutUint64(out[accountActualOffset:], a.ActualPendingBalanceCreditCounter)
	return out
}

// ParseAccount decodes a 285-byte Account layout.
func ParseAccount(b []byte) (Account, error) {
	if len(b) != AccountLen {
		return Account{}, fmt.Errorf("%w: account got %d want %d", ErrInvalidLength, len(b), AccountLen)
	}
	allow, err := parsePodBool(b[accountAllowOffset])
	if err != nil {
		return Account{}, fmt.Errorf("account allow credits: %w", err)
	}

	var a Account
	copy(a.Mint[:], b[accountMintOffset:accountTokenAccountOffset])
	copy(a.TokenAccount[:], b[accountTokenAccountOffset:accountPKOffset])
	copy(a.ElGamalPK[:], b[accountPKOffset:accountPendingOffset])
	copy(a.PendingBalance[:], b[accountPendingOffset:accountAvailableOffset])
	copy(a.AvailableBalance[:], b[accountAvailableOffset:accountDecryptableOffset])
	copy(a.DecryptableBalance[:], b[accountDecryptableOffset:accountAllowOffset])
	a.AllowPendingBalanceCredits = allow
	a.PendingBalanceCreditCounter = binary.LittleEndian.Uint64(b[accountCounterOffset:accountExpectedOffset])
	a.ExpectedPendingBalanceCreditCounter = binary.LittleEndian.Uint64(b[accountExpectedOffset:accountActualOffset])
	a.ActualPendingBalanceCreditCounter = binary.LittleEndian.Uint64(b[accountActualOffset:])
	return a, nil
}
