// Package auth acquires bearer tokens for the remote API with the OAuth 2.0
// device authorization grant and keeps the refresh token in the session
// database.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// tokenKey is the key-value entry holding the serialized token.
const tokenKey = "auth.token"

var (
	// ErrNoAccount means nobody has signed in on this session.
	ErrNoAccount = errors.New("no signed-in account")
	// ErrInteractionRequired means the cached credentials cannot be renewed
	// silently and a user has to sign in again.
	ErrInteractionRequired = errors.New("interactive sign-in required")
	// ErrNoClientID means no app registration is configured, so no sign-in
	// can start.
	ErrNoClientID = errors.New("auth.client_id is not configured (config.toml [auth] or TPOST_CLIENT_ID)")
)

// interactionCodes are token endpoint error codes that only a new sign-in fixes.
var interactionCodes = []string{"invalid_grant", "interaction_required", "login_required", "consent_required"}

// TokenStore persists the serialized token. *store.DB satisfies it.
type TokenStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// DeviceCode is what the user needs to complete sign-in on another device.
type DeviceCode struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	QR                      string // terminal rendering of the verification URL
}

// Prompter shows a device code to the user.
type Prompter interface {
	Prompt(ctx context.Context, code DeviceCode) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, code DeviceCode) error

func (f PrompterFunc) Prompt(ctx context.Context, code DeviceCode) error { return f(ctx, code) }

// Config describes the app registration.
type Config struct {
	AuthorityURL string // e.g. https://login.microsoftonline.com
	TenantID     string
	ClientID     string
	Scopes       []string
}

// Authenticator hands out access tokens.
type Authenticator struct {
	oauth *oauth2.Config
	store TokenStore
	log   *zap.Logger

	mu       sync.Mutex
	token    *oauth2.Token
	loaded   bool
	prompter Prompter
	onChange func(signedIn bool)

	interactive sync.Mutex
}

// New creates an authenticator for cfg.
func New(cfg Config, store TokenStore, log *zap.Logger) *Authenticator {
	base := cfg.AuthorityURL + "/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0"
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       base + "/authorize",
				TokenURL:      base + "/token",
				DeviceAuthURL: base + "/devicecode",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		store: store,
		log:   log,
	}
}

// SetPrompter installs the prompter used when a silent renewal needs user
// interaction. nil disables the interactive fallback.
func (a *Authenticator) SetPrompter(p Prompter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompter = p
}

// OnAccountChange registers fn to run whenever sign-in state flips.
func (a *Authenticator) OnAccountChange(fn func(signedIn bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// HasAccount reports whether a token is cached.
func (a *Authenticator) HasAccount(ctx context.Context) bool {
	tok, err := a.cached(ctx)
	return err == nil && tok != nil
}

// Token returns a valid access token. It first renews silently from the
// cached refresh token; when that requires interaction it makes one
// interactive attempt through the installed prompter. Without any account it
// fails with ErrNoAccount.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	tok, err := a.silent(ctx)
	if err == nil {
		return tok.AccessToken, nil
	}
	if !errors.Is(err, ErrInteractionRequired) {
		return "", err
	}

	a.mu.Lock()
	p := a.prompter
	a.mu.Unlock()
	if p == nil {
		return "", err
	}
	// Only one device-code flow at a time; concurrent callers fail fast.
	if !a.interactive.TryLock() {
		return "", err
	}
	defer a.interactive.Unlock()

	a.log.Info("silent token renewal needs interaction, starting device code flow")
	tok, ierr := a.deviceFlow(ctx, p)
	if ierr != nil {
		return "", fmt.Errorf("%w: %v", ErrInteractionRequired, ierr)
	}
	return tok.AccessToken, nil
}

// Login runs the device code flow unconditionally and stores the result.
func (a *Authenticator) Login(ctx context.Context, p Prompter) error {
	if !a.interactive.TryLock() {
		return errors.New("sign-in already in progress")
	}
	defer a.interactive.Unlock()
	_, err := a.deviceFlow(ctx, p)
	return err
}

// Logout forgets the cached token.
func (a *Authenticator) Logout(ctx context.Context) error {
	if err := a.store.DeleteValue(ctx, tokenKey); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	a.setToken(nil)
	return nil
}

func (a *Authenticator) silent(ctx context.Context) (*oauth2.Token, error) {
	cached, err := a.cached(ctx)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, ErrNoAccount
	}
	if cached.Valid() {
		return cached, nil
	}
	if cached.RefreshToken == "" {
		return nil, ErrInteractionRequired
	}

	fresh, err := a.oauth.TokenSource(ctx, cached).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && slices.Contains(interactionCodes, re.ErrorCode) {
			a.log.Warn("refresh token rejected", zap.String("code", re.ErrorCode))
			if derr := a.store.DeleteValue(ctx, tokenKey); derr != nil {
				a.log.Error("drop rejected token", zap.Error(derr))
			}
			a.setToken(nil)
			return nil, ErrInteractionRequired
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := a.save(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Configured reports whether an app registration is set.
func (a *Authenticator) Configured() bool {
	return a.oauth.ClientID != ""
}

func (a *Authenticator) deviceFlow(ctx context.Context, p Prompter) (*oauth2.Token, error) {
	if !a.Configured() {
		return nil, ErrNoClientID
	}
	da, err := a.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	code := DeviceCode{
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresAt:               da.Expiry,
		QR:                      renderQR(da),
	}
	if err := p.Prompt(ctx, code); err != nil {
		return nil, fmt.Errorf("show device code: %w", err)
	}
	tok, err := a.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("wait for sign-in: %w", err)
	}
	if err := a.save(ctx, tok); err != nil {
		return nil, err
	}
	a.log.Info("signed in")
	return tok, nil
}

func renderQR(da *oauth2.DeviceAuthResponse) string {
	target := da.VerificationURIComplete
	if target == "" {
		target = da.VerificationURI
	}
	q, err := qrcode.New(target, qrcode.Low)
	if err != nil {
		return ""
	}
	return q.ToSmallString(false)
}

// cached loads the token from the store once and then serves it from memory.
func (a *Authenticator) cached(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	if a.loaded {
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}
	a.mu.Unlock()

	raw, ok, err := a.store.GetValue(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	var tok *oauth2.Token
	if ok {
		tok = &oauth2.Token{}
		if err := json.Unmarshal([]byte(raw), tok); err != nil {
			a.log.Warn("discarding unreadable cached token", zap.Error(err))
			tok = nil
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		a.token, a.loaded = tok, true
	}
	return a.token, nil
}

func (a *Authenticator) save(ctx context.Context, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := a.store.SetValue(ctx, tokenKey, string(raw)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	a.setToken(tok)
	return nil
}

// setToken updates the in-memory token and fires the change hook when the
// signed-in state flips.
func (a *Authenticator) setToken(tok *oauth2.Token) {
	a.mu.Lock()
	was := a.loaded && a.token != nil
	a.token, a.loaded = tok, true
	now := tok != nil
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil && was != now {
		fn(now)
	}
}
