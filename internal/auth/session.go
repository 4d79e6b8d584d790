// Package auth holds the credential a check run is made with. A Session
// is passed explicitly into every orchestration call; nothing in the
// engine keeps a credential in package state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	appLog "calmonitor/internal/log"
)

// ErrNotAuthenticated is returned when a session holds no usable
// credential.
var ErrNotAuthenticated = errors.New("not authenticated")

// Google Calendar read-only scopes requested by the OAuth flow.
var CalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/calendar.events.readonly",
}

// Session yields the credential for provider calls.
type Session interface {
	// Authenticated reports whether a credential is present.
	Authenticated() bool
	// TokenSource returns the OAuth2 token source, or ErrNotAuthenticated.
	// Sessions for providers that need no credential return (nil, nil).
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// Anonymous is the session for providers that need no credential, such as
// public ICS feeds.
type Anonymous struct{}

func (Anonymous) Authenticated() bool { return true }

func (Anonymous) TokenSource(context.Context) (oauth2.TokenSource, error) { return nil, nil }

// TokenStore keeps the OAuth2 token obtained through the consent flow in
// memory. It is safe for concurrent use.
type TokenStore struct {
	conf *oauth2.Config

	mu  sync.RWMutex
	tok *oauth2.Token
}

// GoogleConfig returns the OAuth2 client configuration for Google
// Calendar.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       CalendarScopes,
		Endpoint:     endpoints.Google,
	}
}

// NewTokenStore creates an empty store for the given client config.
func NewTokenStore(conf *oauth2.Config) *TokenStore {
	return &TokenStore{conf: conf}
}

// AuthCodeURL returns the consent page URL, requesting offline access so
// a refresh token is issued.
func (s *TokenStore) AuthCodeURL(state string) string {
	return s.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and keeps it.
func (s *TokenStore) Exchange(ctx context.Context, code string) error {
	if code == "" {
		return errors.New("authorization code is empty")
	}
	tok, err := s.conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	s.SetToken(tok)
	appLog.Info("oauth token stored", "expiry", tok.Expiry)
	return nil
}

// SetToken replaces the stored token. A nil token logs the session out.
func (s *TokenStore) SetToken(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
}

func (s *TokenStore) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok != nil
}

// TokenSource returns a refreshing source seeded with the stored token.
func (s *TokenStore) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	s.mu.RLock()
	tok := s.tok
	s.mu.RUnlock()
	if tok == nil {
		return nil, ErrNotAuthenticated
	}
	return s.conf.TokenSource(ctx, tok), nil
}
