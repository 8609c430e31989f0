package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
	"github.com/juno-intents/confidential-ledger/internal/instruction"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
	"github.com/juno-intents/confidential-ledger/internal/wallet"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *ledger.MemoryStore
	p      *Processor
	owner  *wallet.Keys
	mint   confidential.Pubkey
	tokAcc confidential.Pubkey
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dl, err := elgamal.NewDiscreteLog(1<<8, 1<<8)
	if err != nil {
		t.Fatalf("NewDiscreteLog: %v", err)
	}
	owner, err := wallet.Generate(nil, dl)
	if err != nil {
		t.Fatalf("wallet.Generate: %v", err)
	}
	store := ledger.NewMemoryStore()
	p, err := New(store, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{t: t, ctx: context.Background(), store: store, p: p, owner: owner}
	h.mint[0] = 0x01
	h.tokAcc[0] = 0x02
	return h
}

func (h *harness) instr(k instruction.Kind) instruction.Instruction {
	in := instruction.New(k)
	in.Mint = h.mint
	if k.TargetsAccount() {
		in.TokenAccount = h.tokAcc
	}
	return in
}

func (h *harness) mustRun(in instruction.Instruction, wantStatus instruction.Status, wantCode instruction.Code) instruction.Result {
	h.t.Helper()

	res := h.p.Execute(h.ctx, in)
	if res.Status != wantStatus || res.Code != wantCode {
		h.t.Fatalf("%s: got status=%s code=%s err=%q, want status=%s code=%s", in.Kind, res.Status, res.Code, res.Error, wantStatus, wantCode)
	}
	if res.InstructionID != in.ID {
		h.t.Fatalf("result id mismatch")
	}
	return res
}

func (h *harness) open() {
	h.t.Helper()

	zero, err := h.owner.DecryptableZero()
	if err != nil {
		h.t.Fatalf("DecryptableZero: %v", err)
	}
	in := h.instr(instruction.KindOpenAccount)
	in.ElGamalPubkey = h.owner.ElGamalPubkey()
	in.DecryptableZeroBalance = zero
	h.mustRun(in, instruction.StatusOK, instruction.CodeNone)
}

func (h *harness) deposit(amount uint64) instruction.Result {
	in := h.instr(instruction.KindDeposit)
	in.Amount = amount
	return h.p.Execute(h.ctx, in)
}

func (h *harness) account() confidential.Account {
	h.t.Helper()

	a, err := h.store.GetAccount(h.ctx, ledger.AccountAddress(h.mint, h.tokAcc))
	if err != nil {
		h.t.Fatalf("GetAccount: %v", err)
	}
	return a
}

func (h *harness) applyInstr(expected uint64) instruction.Instruction {
	h.t.Helper()

	a := h.account()
	_, dec, err := h.owner.PrepareApply(elgamal.Algebra{}, &a)
	if err != nil {
		h.t.Fatalf("PrepareApply: %v", err)
	}
	in := h.instr(instruction.KindApplyPendingBalance)
	in.ExpectedPendingBalanceCreditCounter = expected
	in.NewDecryptableAvailableBalance = dec
	return in
}

func TestProcessor_DepositApplyCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.open()

	for i, amount := range []uint64{10, 20, 30} {
		res := h.deposit(amount)
		if res.Status != instruction.StatusOK {
			t.Fatalf("deposit %d: %+v", i, res)
		}
		if res.PendingBalanceCreditCounter == nil || *res.PendingBalanceCreditCounter != uint64(i+1) {
			t.Fatalf("deposit %d: counter %v", i, res.PendingBalanceCreditCounter)
		}
	}

	h.mustRun(h.applyInstr(3), instruction.StatusOK, instruction.CodeNone)

	a := h.account()
	bal, err := h.owner.ReadBalance(&a)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal.Available != 60 || bal.Pending != 0 || bal.Credits != 0 {
		t.Fatalf("balance after apply: %+v", bal)
	}
	if a.ExpectedPendingBalanceCreditCounter != 3 || a.ActualPendingBalanceCreditCounter != 3 {
		t.Fatalf("counters after apply: %+v", a)
	}
}

func TestProcessor_StaleApplyThenRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.open()
	for i := 0; i < 3; i++ {
		if res := h.deposit(5); res.Status != instruction.StatusOK {
			t.Fatalf("deposit: %+v", res)
		}
	}
	h.mustRun(h.applyInstr(3), instruction.StatusOK, instruction.CodeNone)

	// Owner reads counter 3, a credit lands, then the owner's apply(3) is stale.
	stale := h.applyInstr(3)
	if res := h.deposit(7); res.Status != instruction.StatusOK {
		t.Fatalf("deposit: %+v", res)
	}
	before := h.account()
	h.mustRun(stale, instruction.StatusRejected, instruction.CodeStaleCounter)
	if h.account() != before {
		t.Fatalf("stale apply changed the account")
	}

	h.mustRun(h.applyInstr(4), instruction.StatusOK, instruction.CodeNone)
	a := h.account()
	bal, err := h.owner.ReadBalance(&a)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if bal.Available != 22 || bal.Credits != 0 {
		t.Fatalf("balance: %+v", bal)
	}

	// Redelivery of the rejected apply is reported as a duplicate.
	h.mustRun(stale, instruction.StatusRejected, instruction.CodeDuplicate)
}

func TestProcessor_AuditorGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.open()

	dl, _ := elgamal.NewDiscreteLog(1<<8, 1<<8)
	auditor, err := wallet.Generate(nil, dl)
	if err != nil {
		t.Fatalf("Generate auditor: %v", err)
	}
	cfg := h.instr(instruction.KindConfigureAuditor)
	cfg.Enabled = true
	cfg.ElGamalPubkey = auditor.ElGamalPubkey()
	h.mustRun(cfg, instruction.StatusOK, instruction.CodeNone)

	tc, err := wallet.EncryptTransfer(h.owner.ElGamalPubkey(), nil, 9)
	if err != nil {
		t.Fatalf("EncryptTransfer: %v", err)
	}
	noAudit := h.instr(instruction.KindTransferCredit)
	noAudit.Ciphertext = tc.Ciphertext
	h.mustRun(noAudit, instruction.StatusRejected, instruction.CodeAuditCiphertextRequired)
	if h.account().PendingBalanceCreditCounter != 0 {
		t.Fatalf("rejected transfer credited")
	}

	apk := auditor.ElGamalPubkey()
	tc, err = wallet.EncryptTransfer(h.owner.ElGamalPubkey(), &apk, 9)
	if err != nil {
		t.Fatalf("EncryptTransfer: %v", err)
	}
	audited := h.instr(instruction.KindTransferCredit)
	audited.Ciphertext = tc.Ciphertext
	audited.AuditorCiphertext = tc.AuditorCiphertext
	h.mustRun(audited, instruction.StatusOK, instruction.CodeNone)

	// Deposits carry a public amount and need no auditor ciphertext.
	if res := h.deposit(1); res.Status != instruction.StatusOK {
		t.Fatalf("deposit under audit: %+v", res)
	}

	off := h.instr(instruction.KindConfigureAuditor)
	off.Enabled = false
	off.ElGamalPubkey = apk
	h.mustRun(off, instruction.StatusOK, instruction.CodeNone)
	again := h.instr(instruction.KindTransferCredit)
	again.Ciphertext = tc.Ciphertext
	h.mustRun(again, instruction.StatusOK, instruction.CodeNone)

	aud, err := h.store.GetAuditor(h.ctx, h.mint)
	if err != nil {
		t.Fatalf("GetAuditor: %v", err)
	}
	if aud.IsAuditRequired() || aud.ElGamalPK != apk {
		t.Fatalf("auditor after disable: %+v", aud)
	}
}

func TestProcessor_CreditGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.open()

	h.mustRun(h.instr(instruction.KindDisableBalanceCredits), instruction.StatusOK, instruction.CodeNone)
	res := h.deposit(5)
	if res.Code != instruction.CodeCreditRejected {
		t.Fatalf("deposit while disabled: %+v", res)
	}
	h.mustRun(h.instr(instruction.KindEnableBalanceCredits), instruction.StatusOK, instruction.CodeNone)
	if res := h.deposit(5); res.Status != instruction.StatusOK {
		t.Fatalf("deposit after enable: %+v", res)
	}
}

func TestProcessor_CounterOverflow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := confidential.NewAccount(elgamal.Algebra{}, h.mint, h.tokAcc, h.owner.ElGamalPubkey(), confidential.AeCiphertext{})
	a.PendingBalanceCreditCounter = math.MaxUint64
	if err := h.store.CreateAccount(h.ctx, uuid.New(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	for i := 0; i < 2; i++ {
		res := h.deposit(1)
		if res.Status != instruction.StatusFailed || res.Code != instruction.CodeCounterOverflow {
			t.Fatalf("deposit %d: %+v", i, res)
		}
	}
	if h.account() != a {
		t.Fatalf("overflowing credit changed the account")
	}
}

func TestProcessor_LookupFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if res := h.deposit(1); res.Code != instruction.CodeNotFound {
		t.Fatalf("deposit to missing account: %+v", res)
	}
	h.open()

	zero, _ := h.owner.DecryptableZero()
	dup := h.instr(instruction.KindOpenAccount)
	dup.ElGamalPubkey = h.owner.ElGamalPubkey()
	dup.DecryptableZeroBalance = zero
	h.mustRun(dup, instruction.StatusRejected, instruction.CodeAlreadyExists)

	bad := h.instr(instruction.KindTransferCredit)
	for i := range bad.Ciphertext {
		bad.Ciphertext[i] = 0xff
	}
	h.mustRun(bad, instruction.StatusRejected, instruction.CodeInvalidInstruction)
}

func TestProcessor_DuplicateDeliveryAppliesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.open()

	in := h.instr(instruction.KindDeposit)
	in.Amount = 4
	payload, err := instruction.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res := h.p.Process(h.ctx, payload); res.Status != instruction.StatusOK {
		t.Fatalf("first delivery: %+v", res)
	}
	if res := h.p.Process(h.ctx, payload); res.Code != instruction.CodeDuplicate {
		t.Fatalf("second delivery: %+v", res)
	}
	if got := h.account().PendingBalanceCreditCounter; got != 1 {
		t.Fatalf("counter: got %d want 1", got)
	}

	if res := h.p.Process(h.ctx, []byte(`{"version":"nope"}`)); res.Code != instruction.CodeInvalidInstruction {
		t.Fatalf("garbage: %+v", res)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status instruction.Status
		code   instruction.Code
	}{
		{nil, instruction.StatusOK, instruction.CodeNone},
		{confidential.ErrCreditRejected, instruction.StatusRejected, instruction.CodeCreditRejected},
		{&confidential.ApplyRejectedError{Reason: confidential.ApplyRejectStaleCounter}, instruction.StatusRejected, instruction.CodeStaleCounter},
		{fmt.Errorf("wrap: %w", confidential.ErrCounterOverflow), instruction.StatusFailed, instruction.CodeCounterOverflow},
		{ErrAuditCiphertextRequired, instruction.StatusRejected, instruction.CodeAuditCiphertextRequired},
		{ledger.ErrNotFound, instruction.StatusRejected, instruction.CodeNotFound},
		{ledger.ErrAlreadyExists, instruction.StatusRejected, instruction.CodeAlreadyExists},
		{ledger.ErrDuplicateInstruction, instruction.StatusRejected, instruction.CodeDuplicate},
		{errors.New("connection reset"), instruction.StatusFailed, instruction.CodeInternal},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("Classify(%v): got %s/%s want %s/%s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	dep := h.instr(instruction.KindDeposit)
	apply := h.instr(instruction.KindApplyPendingBalance)
	addr := ledger.AccountAddress(h.mint, h.tokAcc)
	if string(RoutingKey(dep)) != string(addr[:]) {
		t.Fatalf("deposit key should be the account address")
	}
	if string(RoutingKey(dep)) != string(RoutingKey(apply)) {
		t.Fatalf("instructions for one account must share a key")
	}

	cfg := h.instr(instruction.KindConfigureAuditor)
	if string(RoutingKey(cfg)) != string(h.mint[:]) {
		t.Fatalf("auditor key should be the mint")
	}
}
