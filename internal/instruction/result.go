package instruction

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const ResultVersion = "confidential.result.v1"

type Status string

const (
	StatusOK       Status = "ok"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

type Code string

const (
	CodeNone                    Code = ""
	CodeCreditRejected          Code = "credit_rejected"
	CodeStaleCounter            Code = "stale_counter"
	CodeCounterOverflow         Code = "counter_overflow"
	CodeAuditCiphertextRequired Code = "audit_ciphertext_required"
	CodeNotFound                Code = "not_found"
	CodeAlreadyExists           Code = "already_exists"
	CodeInvalidInstruction      Code = "invalid_instruction"
	CodeDuplicate               Code = "duplicate"
	CodeInternal                Code = "internal"
)

// Result is published once per processed instruction.
type Result struct {
	Version       string    `json:"version"`
	InstructionID uuid.UUID `json:"instructionId"`
	Kind          Kind      `json:"kind,omitempty"`
	Account       string    `json:"account,omitempty"`
	Status        Status    `json:"status"`
	Code          Code      `json:"code,omitempty"`
	Error         string    `json:"error,omitempty"`

	// PendingBalanceCreditCounter is the account counter after the instruction,
	// set for successful account instructions.
	PendingBalanceCreditCounter *uint64 `json:"pendingBalanceCreditCounter,omitempty"`
}

func EncodeResult(r Result) ([]byte, error) {
	r.Version = ResultVersion
	return json.Marshal(r)
}

func DecodeResult(b []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, fmt.Errorf("instruction: decode result: %w", err)
	}
	if r.Version != ResultVersion {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownVersion, r.Version)
	}
	return r, nil
}
