package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dreamlab-ai/nostr-relay/pkg/robusthttp"
)

// HTTPWhitelist asks the admin service, which owns the whitelist, over HTTP. The endpoint
// is called as GET <url>?pubkey=<hex> and answers {"isWhitelisted": bool}.
type HTTPWhitelist struct {
	Client *http.Client
	URL    string
}

type checkWhitelistResponse struct {
	IsWhitelisted bool `json:"isWhitelisted"`
}

func NewHTTPWhitelist(checkURL string, options ...robusthttp.Option) (*HTTPWhitelist, error) {
	if _, err := url.Parse(checkURL); err != nil {
		return nil, fmt.Errorf("invalid whitelist URL: %w", err)
	}
	return &HTTPWhitelist{
		Client: robusthttp.NewClient(options...),
		URL:    checkURL,
	}, nil
}

func (w *HTTPWhitelist) IsWhitelisted(ctx context.Context, pubkey string) (bool, error) {
	u, err := url.Parse(w.URL)
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("pubkey", pubkey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("whitelist check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("whitelist check: unexpected status %d", resp.StatusCode)
	}
	var out checkWhitelistResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("whitelist check: decoding response: %w", err)
	}
	return out.IsWhitelisted, nil
}
