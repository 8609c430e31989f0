package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/accountapi"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
	"github.com/juno-intents/confidential-ledger/internal/instruction"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
	"github.com/juno-intents/confidential-ledger/internal/wallet"
)

const (
	testMint  = "0x0100000000000000000000000000000000000000000000000000000000000000"
	testOwner = "0x0200000000000000000000000000000000000000000000000000000000000000"
)

func run(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	full := append([]string{"ct-wallet", "--dlog-baby-steps", "256", "--dlog-giant-steps", "256"}, args...)
	if err := newApp(&out).RunContext(context.Background(), full); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	return out.String()
}

func mustKeygen(t *testing.T, envKey string) keygenOutput {
	t.Helper()

	var k keygenOutput
	if err := json.Unmarshal([]byte(run(t, "keygen")), &k); err != nil {
		t.Fatalf("unmarshal keygen: %v", err)
	}
	t.Setenv(envKey, k.SecretKey)
	return k
}

func mustDecode(t *testing.T, line string) instruction.Instruction {
	t.Helper()

	in, err := instruction.Decode([]byte(line))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return in
}

func TestKeygenAndPubkey(t *testing.T) {
	k := mustKeygen(t, "TEST_WALLET_KEY_PUBKEY")

	got := strings.TrimSpace(run(t, "--secret-key", "TEST_WALLET_KEY_PUBKEY", "pubkey"))
	if got != k.ElGamalPubkey {
		t.Fatalf("pubkey: got %s want %s", got, k.ElGamalPubkey)
	}
}

func TestOpenAndEncrypt(t *testing.T) {
	k := mustKeygen(t, "TEST_WALLET_KEY_OPEN")

	open := mustDecode(t, run(t, "--secret-key", "TEST_WALLET_KEY_OPEN", "open-instruction", "--mint", testMint, "--token-account", testOwner))
	if open.Kind != instruction.KindOpenAccount || open.ElGamalPubkey.String() != k.ElGamalPubkey {
		t.Fatalf("unexpected open instruction: %+v", open)
	}

	transfer := mustDecode(t, run(t, "encrypt",
		"--mint", testMint, "--token-account", testOwner,
		"--recipient", k.ElGamalPubkey, "--auditor", k.ElGamalPubkey, "--amount", "9"))
	if transfer.Kind != instruction.KindTransferCredit || transfer.AuditorCiphertext == nil {
		t.Fatalf("unexpected transfer instruction: %+v", transfer)
	}
}

func TestBalanceAndApply(t *testing.T) {
	mustKeygen(t, "TEST_WALLET_KEY_BALANCE")

	dl, err := elgamal.NewDiscreteLog(256, 256)
	if err != nil {
		t.Fatalf("NewDiscreteLog: %v", err)
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(os.Getenv("TEST_WALLET_KEY_BALANCE")), "0x"))
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	keys, err := wallet.FromSecret(secret, dl)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}

	mint, _ := ledger.ParsePubkey(testMint)
	owner, _ := ledger.ParsePubkey(testOwner)
	zero, err := keys.DecryptableZero()
	if err != nil {
		t.Fatalf("DecryptableZero: %v", err)
	}
	a := confidential.NewAccount(elgamal.Algebra{}, mint, owner, keys.ElGamalPubkey(), zero)
	ct, err := elgamal.Encrypt(keys.ElGamalPubkey(), 7)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := a.Credit(elgamal.Algebra{}, ct); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	store := ledger.NewMemoryStore()
	if err := store.CreateAccount(context.Background(), uuid.New(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	h, err := accountapi.NewHandler(accountapi.Config{}, store)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	layout := a.Encode()
	for _, src := range [][]string{
		{"--layout", "0x" + hex.EncodeToString(layout[:])},
		{"--api-url", srv.URL, "--mint", testMint, "--token-account", testOwner},
	} {
		args := append([]string{"--secret-key", "TEST_WALLET_KEY_BALANCE", "balance"}, src...)
		var b balanceOutput
		if err := json.Unmarshal([]byte(run(t, args...)), &b); err != nil {
			t.Fatalf("unmarshal balance: %v", err)
		}
		if b.Available != "0" || b.Pending != "7" || b.PendingBalanceCredits != "1" {
			t.Fatalf("balance: %+v", b)
		}
	}

	in := mustDecode(t, run(t, "--secret-key", "TEST_WALLET_KEY_BALANCE", "apply-instruction", "--layout", "0x"+hex.EncodeToString(layout[:])))
	if in.Kind != instruction.KindApplyPendingBalance || in.ExpectedPendingBalanceCreditCounter != 1 {
		t.Fatalf("unexpected apply instruction: %+v", in)
	}
	if err := a.Apply(elgamal.Algebra{}, confidential.SuppliedRederiver(in.NewDecryptableAvailableBalance), in.ExpectedPendingBalanceCreditCounter); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got, err := keys.DecryptAvailable(&a); err != nil || got != 7 {
		t.Fatalf("available after apply: got %d err %v", got, err)
	}
}

func TestBalanceRequiresSource(t *testing.T) {
	mustKeygen(t, "TEST_WALLET_KEY_NOSRC")

	var out bytes.Buffer
	err := newApp(&out).RunContext(context.Background(), []string{"ct-wallet", "--secret-key", "TEST_WALLET_KEY_NOSRC", "balance"})
	if err == nil {
		t.Fatalf("expected error without --layout or --api-url")
	}
}
