package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
)

// mapS3 is an in-memory S3 keyed by bucket/key.
type mapS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMapS3() *mapS3 {
	return &mapS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (c *mapS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	c.objects[k] = b
	c.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (c *mapS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func seedStore(t *testing.T, n int) *ledger.MemoryStore {
	t.Helper()

	ctx := context.Background()
	s := ledger.NewMemoryStore()
	var mint confidential.Pubkey
	mint[0] = 0x01

	if _, err := s.UpdateAuditor(ctx, uuid.New(), mint, func(a *confidential.Auditor, _ bool) error {
		a.SetEnabled(true)
		a.SetKey(confidential.ElGamalPubkey{0x33})
		return nil
	}); err != nil {
		t.Fatalf("UpdateAuditor: %v", err)
	}
	for i := 0; i < n; i++ {
		var owner confidential.Pubkey
		owner[0] = byte(i + 1)
		a := confidential.NewAccount(elgamal.Algebra{}, mint, owner, confidential.ElGamalPubkey{byte(i)}, confidential.AeCiphertext{0xae})
		if err := s.CreateAccount(ctx, uuid.New(), a); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
		if _, err := s.UpdateAccount(ctx, uuid.New(), ledger.AddressOf(&a), func(a *confidential.Account, _ *confidential.Auditor) error {
			return a.Credit(elgamal.Algebra{}, elgamal.EncodeAmount(uint64(i+1)))
		}); err != nil {
			t.Fatalf("UpdateAccount: %v", err)
		}
	}
	return s
}

func fixedNow() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

func TestExportRestore_Memory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(t, 5)
	sink := NewMemorySink("ledger")

	e, err := NewExporter(store, sink, ExporterConfig{PageSize: 2, Now: fixedNow}, nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	m, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if m.ID != "20261016T120000Z" {
		t.Fatalf("id: got %q", m.ID)
	}
	if m.AccountCount != 5 || m.AuditorCount != 1 {
		t.Fatalf("counts: %+v", m)
	}
	if got := len(sink.Keys()); got != 7 {
		t.Fatalf("objects written: got %d want 7", got)
	}
	for _, k := range sink.Keys() {
		if !strings.HasPrefix(k, "ledger/20261016T120000Z/") {
			t.Fatalf("unexpected key %q", k)
		}
	}

	snap, err := Restore(ctx, sink, m.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	want, err := store.ListAccounts(ctx, nil, 100)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(snap.Accounts) != len(want) {
		t.Fatalf("restored %d accounts want %d", len(snap.Accounts), len(want))
	}
	for i := range want {
		if snap.Accounts[i] != want[i] {
			t.Fatalf("account %d mismatch", i)
		}
	}
	if len(snap.Auditors) != 1 || !snap.Auditors[0].IsAuditRequired() {
		t.Fatalf("auditors: %+v", snap.Auditors)
	}
}

func TestRestore_DetectsTampering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink("")
	e, err := NewExporter(seedStore(t, 1), sink, ExporterConfig{Now: fixedNow}, nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	m, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	key := m.Accounts[0].Key
	b, err := sink.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b[confidential.AccountLen-1] ^= 0x01
	if err := sink.Put(ctx, key, b, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := Restore(ctx, sink, m.ID); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}

	if _, err := Restore(ctx, sink, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExportRestore_S3(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newMapS3()
	sink, err := NewSink(SinkConfig{Driver: DriverS3, Bucket: "ct-snapshots", Prefix: "/prod/", S3Client: client})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	e, err := NewExporter(seedStore(t, 3), sink, ExporterConfig{Now: fixedNow}, nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	m, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	mk := "ct-snapshots/prod/" + m.ID + "/manifest.json"
	if _, ok := client.objects[mk]; !ok {
		t.Fatalf("manifest not stored at %q", mk)
	}
	if client.types[mk] != "application/json" {
		t.Fatalf("manifest content type: %q", client.types[mk])
	}

	snap, err := Restore(ctx, sink, m.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(snap.Accounts) != 3 {
		t.Fatalf("restored %d accounts", len(snap.Accounts))
	}
	if _, err := sink.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewSinkValidation(t *testing.T) {
	t.Parallel()

	cases := []SinkConfig{
		{Driver: "gcs"},
		{Driver: DriverS3, S3Client: newMapS3()},
		{Driver: DriverS3, Bucket: "b"},
	}
	for _, cfg := range cases {
		if _, err := NewSink(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%+v: expected ErrInvalidConfig, got %v", cfg, err)
		}
	}

	sink := NewMemorySink("")
	for _, key := range []string{"", " a", "a\x00b"} {
		if err := sink.Put(context.Background(), key, nil, ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
