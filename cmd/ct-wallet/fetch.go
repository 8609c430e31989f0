package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
)

const fetchTimeout = 10 * time.Second

// fetchAccount reads the account layout from the account API.
func fetchAccount(ctx context.Context, baseURL string, mint, tokenAccount confidential.Pubkey) (confidential.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := strings.TrimRight(strings.TrimSpace(baseURL), "/") +
		"/v1/mints/" + mint.String() + "/accounts/" + tokenAccount.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return confidential.Account{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return confidential.Account{}, fmt.Errorf("fetch account: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return confidential.Account{}, fmt.Errorf("read account response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return confidential.Account{}, fmt.Errorf("fetch account: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Layout string `json:"layout"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return confidential.Account{}, fmt.Errorf("decode account response: %w", err)
	}
	return decodeLayout(out.Layout)
}
