// Package wallet holds an account owner's key material and the client-side
// operations that need it: rederiving the decryptable balance on apply,
// reading balances back, and encrypting transfer amounts.
package wallet

import (
	"errors"
	"fmt"
	"io"

	"github.com/juno-intents/confidential-ledger/internal/aecipher"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
)

var ErrInvalidConfig = errors.New("wallet: invalid config")

// Keys are the owner's ElGamal secret and the AE key derived from it.
type Keys struct {
	secret *elgamal.SecretKey
	ae     aecipher.Key
	dl     *elgamal.DiscreteLog
}

func Generate(r io.Reader, dl *elgamal.DiscreteLog) (*Keys, error) {
	sk, err := elgamal.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return fromSecret(sk, dl)
}

// FromSecret rebuilds Keys from the 32-byte ElGamal secret.
func FromSecret(b []byte, dl *elgamal.DiscreteLog) (*Keys, error) {
	sk, err := elgamal.ParseSecretKey(b)
	if err != nil {
		return nil, err
	}
	return fromSecret(sk, dl)
}

func fromSecret(sk *elgamal.SecretKey, dl *elgamal.DiscreteLog) (*Keys, error) {
	if dl == nil {
		return nil, fmt.Errorf("%w: nil discrete log", ErrInvalidConfig)
	}
	raw := sk.Bytes()
	ae, err := aecipher.DeriveKey(raw[:])
	if err != nil {
		return nil, err
	}
	return &Keys{secret: sk, ae: ae, dl: dl}, nil
}

func (k *Keys) Secret() [elgamal.SecretKeyLen]byte { return k.secret.Bytes() }

func (k *Keys) ElGamalPubkey() confidential.ElGamalPubkey { return k.secret.PublicKey() }

// DecryptableZero is the AE encryption of 0 that open_account carries.
func (k *Keys) DecryptableZero() (confidential.AeCiphertext, error) {
	return k.ae.Encrypt(0)
}

// Rederive decrypts a folded available balance and seals it under the AE
// key. It implements confidential.Rederiver for owner-side application.
func (k *Keys) Rederive(available confidential.ElGamalCiphertext) (confidential.AeCiphertext, error) {
	amount, err := k.secret.Decrypt(available, k.dl)
	if err != nil {
		return confidential.AeCiphertext{}, fmt.Errorf("wallet: decrypt available: %w", err)
	}
	return k.ae.Encrypt(amount)
}

var _ confidential.Rederiver = (*Keys)(nil)

// DecryptAvailable reads the decryptable cache of an account.
func (k *Keys) DecryptAvailable(a *confidential.Account) (uint64, error) {
	if a == nil {
		return 0, fmt.Errorf("%w: nil account", ErrInvalidConfig)
	}
	return k.ae.Decrypt(a.DecryptableBalance)
}

// Balance is an owner's view of an account.
type Balance struct {
	Available uint64
	Pending   uint64
	// Credits is the number of pending credits not yet applied.
	Credits uint64
}

// ReadBalance decrypts the available cache and the pending ciphertext.
func (k *Keys) ReadBalance(a *confidential.Account) (Balance, error) {
	available, err := k.DecryptAvailable(a)
	if err != nil {
		return Balance{}, err
	}
	pending, err := k.secret.Decrypt(a.PendingBalance, k.dl)
	if err != nil {
		return Balance{}, fmt.Errorf("wallet: decrypt pending: %w", err)
	}
	return Balance{Available: available, Pending: pending, Credits: a.PendingBalanceCredits()}, nil
}

// PrepareApply returns the expected counter and the new decryptable balance
// for an apply_pending_balance instruction against the account as observed.
func (k *Keys) PrepareApply(alg confidential.CiphertextAlgebra, a *confidential.Account) (uint64, confidential.AeCiphertext, error) {
	if a == nil || alg == nil {
		return 0, confidential.AeCiphertext{}, fmt.Errorf("%w: nil account or algebra", ErrInvalidConfig)
	}
	folded, err := alg.Add(a.AvailableBalance, a.PendingBalance)
	if err != nil {
		return 0, confidential.AeCiphertext{}, fmt.Errorf("wallet: fold pending: %w", err)
	}
	dec, err := k.Rederive(folded)
	if err != nil {
		return 0, confidential.AeCiphertext{}, err
	}
	return a.PendingBalanceCreditCounter, dec, nil
}

// TransferCredit is the receiving side of a confidential transfer.
type TransferCredit struct {
	Ciphertext confidential.ElGamalCiphertext
	// AuditorCiphertext is nil when the mint has no enabled auditor.
	AuditorCiphertext *confidential.ElGamalCiphertext
}

// EncryptTransfer encrypts amount for the recipient and, when an auditor key
// is given, for the auditor too.
func EncryptTransfer(recipient confidential.ElGamalPubkey, auditor *confidential.ElGamalPubkey, amount uint64) (TransferCredit, error) {
	ct, err := elgamal.Encrypt(recipient, amount)
	if err != nil {
		return TransferCredit{}, fmt.Errorf("wallet: encrypt for recipient: %w", err)
	}
	out := TransferCredit{Ciphertext: ct}
	if auditor != nil {
		act, err := elgamal.Encrypt(*auditor, amount)
		if err != nil {
			return TransferCredit{}, fmt.Errorf("wallet: encrypt for auditor: %w", err)
		}
		out.AuditorCiphertext = &act
	}
	return out, nil
}
