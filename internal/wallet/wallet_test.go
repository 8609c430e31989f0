package wallet

import (
	"errors"
	"testing"

	"github.com/juno-intents/confidential-ledger/internal/aecipher"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
)

func mustKeys(t *testing.T) *Keys {
	t.Helper()

	dl, err := elgamal.NewDiscreteLog(1<<8, 1<<8)
	if err != nil {
		t.Fatalf("NewDiscreteLog: %v", err)
	}
	k, err := Generate(nil, dl)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return k
}

func mustOpen(t *testing.T, k *Keys) *confidential.Account {
	t.Helper()

	zero, err := k.DecryptableZero()
	if err != nil {
		t.Fatalf("DecryptableZero: %v", err)
	}
	var mint, owner confidential.Pubkey
	mint[0], owner[0] = 1, 2
	a := confidential.NewAccount(elgamal.Algebra{}, mint, owner, k.ElGamalPubkey(), zero)
	return &a
}

func TestKeys_FullCreditApplyCycle(t *testing.T) {
	t.Parallel()

	k := mustKeys(t)
	alg := elgamal.Algebra{}
	a := mustOpen(t, k)

	bal, err := k.ReadBalance(a)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal != (Balance{}) {
		t.Fatalf("fresh balance: %+v", bal)
	}

	if err := a.Credit(alg, elgamal.EncodeAmount(100)); err != nil {
		t.Fatalf("Credit deposit: %v", err)
	}
	tc, err := EncryptTransfer(k.ElGamalPubkey(), nil, 23)
	if err != nil {
		t.Fatalf("EncryptTransfer: %v", err)
	}
	if tc.AuditorCiphertext != nil {
		t.Fatalf("unexpected auditor ciphertext")
	}
	if err := a.Credit(alg, tc.Ciphertext); err != nil {
		t.Fatalf("Credit transfer: %v", err)
	}

	bal, err = k.ReadBalance(a)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal.Available != 0 || bal.Pending != 123 || bal.Credits != 2 {
		t.Fatalf("before apply: %+v", bal)
	}

	expected, dec, err := k.PrepareApply(alg, a)
	if err != nil {
		t.Fatalf("PrepareApply: %v", err)
	}
	if expected != 2 {
		t.Fatalf("expected counter: got %d want 2", expected)
	}
	if err := a.Apply(alg, confidential.SuppliedRederiver(dec), expected); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	bal, err = k.ReadBalance(a)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal.Available != 123 || bal.Pending != 0 || bal.Credits != 0 {
		t.Fatalf("after apply: %+v", bal)
	}
}

func TestKeys_RederiveMatchesSuppliedPath(t *testing.T) {
	t.Parallel()

	k := mustKeys(t)
	alg := elgamal.Algebra{}
	a := mustOpen(t, k)
	if err := a.Credit(alg, elgamal.EncodeAmount(7)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := a.Apply(alg, k, 1); err != nil {
		t.Fatalf("Apply with Keys rederiver: %v", err)
	}
	got, err := k.DecryptAvailable(a)
	if err != nil {
		t.Fatalf("DecryptAvailable: %v", err)
	}
	if got != 7 {
		t.Fatalf("available: got %d want 7", got)
	}
}

func TestKeys_RederiveOutOfRangeLeavesAccount(t *testing.T) {
	t.Parallel()

	k := mustKeys(t)
	alg := elgamal.Algebra{}
	a := mustOpen(t, k)
	if err := a.Credit(alg, elgamal.EncodeAmount(1<<20)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	before := *a
	err := a.Apply(alg, k, 1)
	if !errors.Is(err, elgamal.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if *a != before {
		t.Fatalf("account mutated on failed apply")
	}
}

func TestEncryptTransfer_WithAuditor(t *testing.T) {
	t.Parallel()

	owner := mustKeys(t)
	auditor := mustKeys(t)
	apk := auditor.ElGamalPubkey()

	tc, err := EncryptTransfer(owner.ElGamalPubkey(), &apk, 55)
	if err != nil {
		t.Fatalf("EncryptTransfer: %v", err)
	}
	if tc.AuditorCiphertext == nil {
		t.Fatalf("missing auditor ciphertext")
	}
	got, err := auditor.secret.Decrypt(*tc.AuditorCiphertext, auditor.dl)
	if err != nil || got != 55 {
		t.Fatalf("auditor decrypt: got %d err %v", got, err)
	}
}

func TestFromSecret_RoundTrip(t *testing.T) {
	t.Parallel()

	k := mustKeys(t)
	secret := k.Secret()
	k2, err := FromSecret(secret[:], k.dl)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	if k2.ElGamalPubkey() != k.ElGamalPubkey() {
		t.Fatalf("pubkey mismatch")
	}
	ct, err := k.ae.Encrypt(9)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if got, err := k2.ae.Decrypt(ct); err != nil || got != 9 {
		t.Fatalf("derived AE key mismatch: got %d err %v", got, err)
	}

	if _, err := FromSecret(secret[:], nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDecryptAvailable_ForeignCache(t *testing.T) {
	t.Parallel()

	k := mustKeys(t)
	a := mustOpen(t, k)
	other := mustKeys(t)
	if _, err := other.DecryptAvailable(a); !errors.Is(err, aecipher.ErrOpen) {
		t.Fatalf("expected aecipher.ErrOpen, got %v", err)
	}
}
