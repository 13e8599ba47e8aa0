package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	appLog "calnote/internal/log"
)

// ErrNotAuthenticated means no usable token is stored and an interactive
// login is required before any sync can run.
var ErrNotAuthenticated = errors.New("rest: not authenticated, interactive login required")

// refreshBuffer is how close to expiry a token may get before it is
// refreshed proactively on the next call.
const refreshBuffer = 5 * time.Minute

// AuthCodeURL returns the URL the user must visit to authorize the
// application. state is passed through to the redirect.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Authorize exchanges an authorization code for a token pair and persists
// it. This is the interactive-login entry point.
func (c *Client) Authorize(ctx context.Context, code string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("rest: authorization code exchange: %w", err)
	}
	if err := c.store.Save(tok); err != nil {
		return err
	}
	appLog.Info("rest: authorized", "expiry", tok.Expiry)
	return nil
}

// ensureToken returns a valid access token, refreshing it first when it
// is within refreshBuffer of expiry. Refreshes are funneled through
// singleflight so overlapping calls cannot trigger duplicate refreshes.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	tok, err := c.store.Load()
	if err != nil {
		return "", err
	}
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return "", ErrNotAuthenticated
	}
	if tokenUsable(tok) {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// refreshed and persisted already.
		cur, err := c.store.Load()
		if err != nil {
			return nil, err
		}
		if cur != nil && tokenUsable(cur) {
			return cur.AccessToken, nil
		}
		if cur == nil || cur.RefreshToken == "" {
			return nil, ErrNotAuthenticated
		}

		// The oauth2 token source only refreshes once the token is expired
		// by its own ~10s margin. Handing it an already-expired stamp forces
		// the refresh our larger buffer asks for.
		stale := &oauth2.Token{
			RefreshToken: cur.RefreshToken,
			Expiry:       time.Now().Add(-time.Minute),
		}
		rctx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
		fresh, err := c.conf.TokenSource(rctx, stale).Token()
		if err != nil {
			return nil, fmt.Errorf("rest: token refresh: %w", err)
		}
		if err := c.store.Save(fresh); err != nil {
			return nil, err
		}
		appLog.Info("rest: token refreshed", "expiry", fresh.Expiry)
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func tokenUsable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Until(tok.Expiry) > refreshBuffer
}
