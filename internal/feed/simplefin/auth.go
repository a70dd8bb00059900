package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuthState is the saved result of claiming a setup token.
type AuthState struct {
	ClaimedAt time.Time `json:"claimed_at"`
	AccessURL string    `json:"access_url"`
	TokenHint string    `json:"token_hint"`
}

// LoadOrClaim returns the saved access URL or claims cfg.Token and saves it.
func LoadOrClaim(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*AuthState, error) {
	auth, err := loadAuthState(cfg.StateFile)
	switch {
	case err == nil && auth.AccessURL != "":
		return auth, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read SimpleFIN state: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no saved SimpleFIN access; set simplefin.token to a setup token")
	}

	accessURL, err := claimToken(ctx, httpClient, cfg.Token)
	if err != nil {
		return nil, err
	}
	auth = &AuthState{AccessURL: accessURL, ClaimedAt: time.Now().UTC(), TokenHint: hint(cfg.Token)}
	if err := saveAuthState(cfg.StateFile, auth); err != nil {
		return nil, fmt.Errorf("failed to save SimpleFIN state: %w", err)
	}
	if logger != nil {
		logger.Info("Claimed SimpleFIN access URL", "state_file", cfg.StateFile)
	}
	return auth, nil
}

// claimToken exchanges a base64 setup token for an access URL.
func claimToken(ctx context.Context, httpClient *http.Client, token string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("failed to decode SimpleFIN token: %w", err)
		}
	}
	claimURL := string(decoded)
	if !isHTTPURL(claimURL) {
		return "", fmt.Errorf("SimpleFIN token does not contain a claim URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to claim access URL: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to claim SimpleFIN access: %w", statusError(resp))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read access URL: %w", err)
	}
	accessURL := strings.TrimSpace(string(body))
	if !isHTTPURL(accessURL) {
		return "", fmt.Errorf("SimpleFIN returned an invalid access URL")
	}
	return accessURL, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func loadAuthState(path string) (*AuthState, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var auth AuthState
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	return &auth, nil
}

func saveAuthState(path string, auth *AuthState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// hint keeps enough of a token to recognize it without storing it.
func hint(token string) string {
	if len(token) > 16 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return "short_token"
}
