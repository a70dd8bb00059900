package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Config holds Gmail API configuration. The token file must already hold
// a token granted for the read-only Gmail scope.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
	Query        string
	Mailbox      string
	Concurrency  int
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("gmail client ID and secret are required")
	}
	if c.TokenFile == "" {
		return fmt.Errorf("gmail token file is required")
	}
	return nil
}

// APISource reads messages through the Gmail API.
type APISource struct {
	srv    *gmailapi.Service
	userID string
}

// NewAPISource builds an authorized Gmail client, refreshing and saving the
// stored token when it has expired.
func NewAPISource(ctx context.Context, cfg Config, logger *slog.Logger) (*APISource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = common.Component(logger, "gmail")

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}

	token, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load gmail token: %w", err)
	}
	if !token.Valid() {
		fresh, err := oauthConfig.TokenSource(ctx, token).Token()
		if err != nil {
			return nil, fmt.Errorf("failed to refresh token: %w", err)
		}
		if err := SaveToken(cfg.TokenFile, fresh); err != nil {
			logger.Warn("Failed to save refreshed token", "error", err)
		}
		token = fresh
	}

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	userID := cfg.Mailbox
	if userID == "" {
		userID = "me"
	}
	return &APISource{srv: srv, userID: userID}, nil
}

// ListMessageIDs returns every message id matching the Gmail search query.
func (s *APISource) ListMessageIDs(ctx context.Context, query string) ([]string, error) {
	var ids []string
	call := s.srv.Users.Messages.List(s.userID).Q(query).Context(ctx)
	err := call.Pages(ctx, func(resp *gmailapi.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

// GetMessage fetches and flattens a single message.
func (s *APISource) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := s.srv.Users.Messages.Get(s.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	out := &Message{
		ID:   msg.Id,
		Date: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return out, nil
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			out.From = h.Value
		case "subject":
			out.Subject = h.Value
		case "date":
			if d, err := mail.ParseDate(h.Value); err == nil {
				out.Date = d.UTC()
			}
		}
	}
	out.Body = messageText(msg.Payload)
	return out, nil
}

// messageText returns the first text/plain part, falling back to HTML.
func messageText(part *gmailapi.MessagePart) string {
	if plain := findPart(part, "text/plain"); plain != "" {
		return plain
	}
	return findPart(part, "text/html")
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
		}
		if err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// LoadToken loads a token from file.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	f, err := os.Open(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

// SaveToken writes a token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}
