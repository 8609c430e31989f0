// Package accountapi serves read-only views of confidential accounts and
// mint auditors over HTTP.
package accountapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
)

var ErrInvalidConfig = errors.New("accountapi: invalid config")

type Reader interface {
	GetAccount(ctx context.Context, addr ledger.Address) (confidential.Account, error)
	GetAuditor(ctx context.Context, mint confidential.Pubkey) (confidential.Auditor, error)
}

type Config struct {
	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	Now func() time.Time
	Log *slog.Logger
}

func NewHandler(cfg Config, reader Reader) (http.Handler, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &handler{
		cfg:    cfg,
		reader: reader,
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/accounts/{address}", h.handleAccount)
	mux.HandleFunc("GET /v1/mints/{mint}/accounts/{tokenAccount}", h.handleAccountByOwner)
	mux.HandleFunc("GET /v1/auditors/{mint}", h.handleAuditor)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks are never throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !h.limiter.Allow(clientIP(r), h.cfg.Now().UTC()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg     Config
	reader  Reader
	limiter *ipRateLimiter
}

type accountResponse struct {
	Version      string `json:"version"`
	Address      string `json:"address"`
	Mint         string `json:"mint"`
	TokenAccount string `json:"tokenAccount"`

	ElGamalPubkey               string `json:"elgamalPubkey"`
	PendingBalance              string `json:"pendingBalance"`
	AvailableBalance            string `json:"availableBalance"`
	DecryptableAvailableBalance string `json:"decryptableAvailableBalance"`
	AllowPendingBalanceCredits  bool   `json:"allowPendingBalanceCredits"`

	// Counters are decimal strings so JSON clients never lose precision.
	PendingBalanceCreditCounter         string `json:"pendingBalanceCreditCounter"`
	ExpectedPendingBalanceCreditCounter string `json:"expectedPendingBalanceCreditCounter"`
	ActualPendingBalanceCreditCounter   string `json:"actualPendingBalanceCreditCounter"`
	PendingBalanceCredits               string `json:"pendingBalanceCredits"`

	Layout string `json:"layout"`
}

type auditorResponse struct {
	Version       string `json:"version"`
	Mint          string `json:"mint"`
	Enabled       bool   `json:"enabled"`
	ElGamalPubkey string `json:"elgamalPubkey"`
	Layout        string `json:"layout"`
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address")
		return
	}
	h.serveAccount(w, r, addr)
}

func (h *handler) handleAccountByOwner(w http.ResponseWriter, r *http.Request) {
	mint, err := ledger.ParsePubkey(r.PathValue("mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint")
		return
	}
	owner, err := ledger.ParsePubkey(r.PathValue("tokenAccount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token_account")
		return
	}
	h.serveAccount(w, r, ledger.AccountAddress(mint, owner))
}

func (h *handler) serveAccount(w http.ResponseWriter, r *http.Request, addr ledger.Address) {
	a, err := h.reader.GetAccount(r.Context(), addr)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.cfg.Log.Error("read account", "address", addr, "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	layout := a.Encode()
	writeJSON(w, http.StatusOK, accountResponse{
		Version:                             "v1",
		Address:                             addr.String(),
		Mint:                                a.Mint.String(),
		TokenAccount:                        a.TokenAccount.String(),
		ElGamalPubkey:                       a.ElGamalPK.String(),
		PendingBalance:                      a.PendingBalance.String(),
		AvailableBalance:                    a.AvailableBalance.String(),
		DecryptableAvailableBalance:         a.DecryptableBalance.String(),
		AllowPendingBalanceCredits:          a.AllowPendingBalanceCredits.Bool(),
		PendingBalanceCreditCounter:         strconv.FormatUint(a.PendingBalanceCreditCounter, 10),
		ExpectedPendingBalanceCreditCounter: strconv.FormatUint(a.ExpectedPendingBalanceCreditCounter, 10),
		ActualPendingBalanceCreditCounter:   strconv.FormatUint(a.ActualPendingBalanceCreditCounter, 10),
		PendingBalanceCredits:               strconv.FormatUint(a.PendingBalanceCredits(), 10),
		Layout:                              "0x" + hex.EncodeToString(layout[:]),
	})
}

func (h *handler) handleAuditor(w http.ResponseWriter, r *http.Request) {
	mint, err := ledger.ParsePubkey(r.PathValue("mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint")
		return
	}
	a, err := h.reader.GetAuditor(r.Context(), mint)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.cfg.Log.Error("read auditor", "mint", mint, "err", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	layout := a.Encode()
	writeJSON(w, http.StatusOK, auditorResponse{
		Version:       "v1",
		Mint:          a.Mint.String(),
		Enabled:       a.IsAuditRequired(),
		ElGamalPubkey: a.ElGamalPK.String(),
		Layout:        "0x" + hex.EncodeToString(layout[:]),
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
