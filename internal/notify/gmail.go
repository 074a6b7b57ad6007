package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gmailSendTimeout = 30 * time.Second

// GmailConfig holds OAuth2 app credentials and a path to a previously
// obtained token (refresh token included). The interactive consent flow
// lives outside the service; a headless deployment only refreshes.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenPath    string // JSON oauth2.Token, must contain a refresh token
}

// GmailTransport sends alerts through the Gmail API with base64url raw
// messages. Tokens refresh transparently via the oauth2 token source.
type GmailTransport struct {
	svc *gmail.Service
}

// NewGmailTransport loads the stored token and builds the API client.
func NewGmailTransport(ctx context.Context, cfg GmailConfig) (*GmailTransport, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("gmail transport: ClientID and ClientSecret are required")
	}
	tok, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("gmail transport: load token: %w", err)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oc.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("gmail transport: build service: %w", err)
	}
	return &GmailTransport{svc: svc}, nil
}

func (g *GmailTransport) Name() string { return "gmail" }

// Send renders the message to MIME and posts it as a raw Gmail message
// (base64url without padding, per the API contract).
func (g *GmailTransport) Send(ctx context.Context, msg *Message) error {
	raw, err := BuildMIMEMessage(msg)
	if err != nil {
		return &TransportError{Kind: ErrKindOther, Err: err}
	}
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)

	sendCtx, cancel := context.WithTimeout(ctx, gmailSendTimeout)
	defer cancel()

	_, err = g.svc.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).
		Context(sendCtx).Do()
	if err != nil {
		return classifyGmailError(err)
	}
	return nil
}

func classifyGmailError(err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 401 || ge.Code == 403:
			return &TransportError{Kind: ErrKindAuth, Err: err}
		case ge.Code == 413:
			return &TransportError{Kind: ErrKindTooLarge, Err: err}
		}
		return &TransportError{Kind: ErrKindOther, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: ErrKindTimeout, Err: err}
	}
	if strings.Contains(err.Error(), "oauth2") {
		return &TransportError{Kind: ErrKindAuth, Err: err}
	}
	return &TransportError{Kind: ErrKindConnection, Err: err}
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, errors.New("token path not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, errors.New("stored token is expired and has no refresh token")
	}
	return &tok, nil
}
