// Package snapshot exports the persisted account and auditor layouts from a
// ledger.Store to object storage and reads them back.
//
// A snapshot with id ID is laid out as:
//
//	<ID>/manifest.json
//	<ID>/accounts/<address-hex>.bin   285-byte account layout
//	<ID>/auditors/<mint-hex>.bin      65-byte auditor layout
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
)

const (
	ManifestVersion = "confidential.snapshot.v1"

	defaultPageSize = 500
)

var ErrDigestMismatch = errors.New("snapshot: digest mismatch")

type Entry struct {
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
}

type Manifest struct {
	Version   string    `json:"version"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	AccountCount int     `json:"accountCount"`
	AuditorCount int     `json:"auditorCount"`
	Accounts     []Entry `json:"accounts"`
	Auditors     []Entry `json:"auditors"`
}

type ExporterConfig struct {
	PageSize int
	Now      func() time.Time
}

type Exporter struct {
	store ledger.Store
	sink  Sink
	cfg   ExporterConfig
	log   *slog.Logger
}

func NewExporter(store ledger.Store, sink Sink, cfg ExporterConfig, log *slog.Logger) (*Exporter, error) {
	if store == nil || sink == nil {
		return nil, fmt.Errorf("%w: nil store or sink", ErrInvalidConfig)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{store: store, sink: sink, cfg: cfg, log: log}, nil
}

// Export writes every auditor and account, then the manifest. The manifest is
// written last so a reader never sees a manifest naming missing objects.
func (e *Exporter) Export(ctx context.Context) (Manifest, error) {
	now := e.cfg.Now().UTC()
	m := Manifest{
		Version:   ManifestVersion,
		ID:        now.Format("20060102T150405Z"),
		CreatedAt: now,
	}

	auditors, err := e.store.ListAuditors(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: list auditors: %w", err)
	}
	for _, a := range auditors {
		layout := a.Encode()
		key := auditorKey(m.ID, a.Mint)
		if err := e.sink.Put(ctx, key, layout[:], "application/octet-stream"); err != nil {
			return Manifest{}, err
		}
		m.Auditors = append(m.Auditors, Entry{Key: key, SHA256: digest(layout[:])})
	}

	var after *ledger.Address
	for {
		page, err := e.store.ListAccounts(ctx, after, e.cfg.PageSize)
		if err != nil {
			return Manifest{}, fmt.Errorf("snapshot: list accounts: %w", err)
		}
		for i := range page {
			addr := ledger.AddressOf(&page[i])
			layout := page[i].Encode()
			key := accountKey(m.ID, addr)
			if err := e.sink.Put(ctx, key, layout[:], "application/octet-stream"); err != nil {
				return Manifest{}, err
			}
			m.Accounts = append(m.Accounts, Entry{Key: key, SHA256: digest(layout[:])})
		}
		if len(page) < e.cfg.PageSize {
			break
		}
		last := ledger.AddressOf(&page[len(page)-1])
		after = &last
	}

	m.AccountCount = len(m.Accounts)
	m.AuditorCount = len(m.Auditors)
	raw, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	if err := e.sink.Put(ctx, manifestKey(m.ID), raw, "application/json"); err != nil {
		return Manifest{}, err
	}

	e.log.Info("snapshot exported", "id", m.ID, "accounts", len(m.Accounts), "auditors", len(m.Auditors))
	return m, nil
}

// Snapshot is a restored export.
type Snapshot struct {
	Manifest Manifest
	Accounts []confidential.Account
	Auditors []confidential.Auditor
}

// Restore reads snapshot id, checks every object against its manifest digest
// and decodes each layout strictly.
func Restore(ctx context.Context, sink Sink, id string) (Snapshot, error) {
	if sink == nil {
		return Snapshot{}, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	raw, err := sink.Get(ctx, manifestKey(id))
	if err != nil {
		return Snapshot{}, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return Snapshot{}, fmt.Errorf("snapshot: unsupported manifest version %q", m.Version)
	}
	if m.AccountCount != len(m.Accounts) || m.AuditorCount != len(m.Auditors) {
		return Snapshot{}, fmt.Errorf("snapshot: manifest counts do not match entries")
	}

	out := Snapshot{Manifest: m}
	for _, ent := range m.Auditors {
		b, err := fetch(ctx, sink, ent)
		if err != nil {
			return Snapshot{}, err
		}
		a, err := confidential.ParseAuditor(b)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %s: %w", ent.Key, err)
		}
		out.Auditors = append(out.Auditors, a)
	}
	for _, ent := range m.Accounts {
		b, err := fetch(ctx, sink, ent)
		if err != nil {
			return Snapshot{}, err
		}
		a, err := confidential.ParseAccount(b)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %s: %w", ent.Key, err)
		}
		if want := accountKey(m.ID, ledger.AddressOf(&a)); want != ent.Key {
			return Snapshot{}, fmt.Errorf("snapshot: %s holds account for %s", ent.Key, want)
		}
		out.Accounts = append(out.Accounts, a)
	}
	return out, nil
}

func fetch(ctx context.Context, sink Sink, ent Entry) ([]byte, error) {
	b, err := sink.Get(ctx, ent.Key)
	if err != nil {
		return nil, err
	}
	if got := digest(b); !strings.EqualFold(got, ent.SHA256) {
		return nil, fmt.Errorf("%w: %s: got %s want %s", ErrDigestMismatch, ent.Key, got, ent.SHA256)
	}
	return b, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func manifestKey(id string) string { return id + "/manifest.json" }

func accountKey(id string, addr ledger.Address) string {
	return id + "/accounts/" + hex.EncodeToString(addr[:]) + ".bin"
}

func auditorKey(id string, mint confidential.Pubkey) string {
	return id + "/auditors/" + hex.EncodeToString(mint[:]) + ".bin"
}
