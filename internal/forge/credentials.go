package forge

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

// Credentials produce API clients able to act on a repository.
type Credentials interface {
	// ClientFor returns a client scoped to installationID. Token credentials ignore the id.
	ClientFor(ctx context.Context, installationID int64) (*Client, error)
}

// AppCredentials mint installation tokens for a GitHub App.
type AppCredentials struct {
	AppID      int64
	PrivateKey []byte
	BaseURL    string
	Transport  http.RoundTripper
}

// ClientFor returns a client authenticated as the given installation.
func (a *AppCredentials) ClientFor(_ context.Context, installationID int64) (*Client, error) {
	if installationID <= 0 {
		return nil, ErrNoInstallation
	}
	base := a.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tr, err := ghinstallation.New(base, a.AppID, installationID, a.PrivateKey)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryAuth, "load github app private key").Build()
	}
	if a.BaseURL != "" {
		tr.BaseURL = strings.TrimSuffix(a.BaseURL, "/")
	}
	return NewClient(&http.Client{Transport: tr, Timeout: time.Minute}, a.BaseURL)
}

// TokenCredentials authenticate every request with one static token.
type TokenCredentials struct {
	Token   string
	BaseURL string
}

// ClientFor returns a token-authenticated client.
func (t *TokenCredentials) ClientFor(ctx context.Context, _ int64) (*Client, error) {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: t.Token}))
	hc.Timeout = time.Minute
	return NewClient(hc, t.BaseURL)
}

// NormalizePrivateKey turns literal "\n" sequences, as found in single-line
// environment variables, into real newlines.
func NormalizePrivateKey(key string) []byte {
	return []byte(strings.TrimSpace(strings.ReplaceAll(key, `\n`, "\n")))
}

// CredentialsFromConfig selects App credentials when an App id is configured
// and token credentials otherwise.
func CredentialsFromConfig(cfg config.GitHubConfig) (Credentials, error) {
	if cfg.AppMode() {
		key := cfg.PrivateKey
		if key == "" && cfg.PrivateKeyPath != "" {
			data, err := os.ReadFile(cfg.PrivateKeyPath)
			if err != nil {
				return nil, errors.WrapError(err, errors.CategoryConfig, "read github app private key").
					WithContext("path", cfg.PrivateKeyPath).Build()
			}
			key = string(data)
		}
		if key == "" {
			return nil, errors.ConfigError("github.private_key is required when github.app_id is set").Build()
		}
		return &AppCredentials{AppID: cfg.AppID, PrivateKey: NormalizePrivateKey(key), BaseURL: cfg.APIBaseURL}, nil
	}
	if cfg.Token != "" {
		return &TokenCredentials{Token: cfg.Token, BaseURL: cfg.APIBaseURL}, nil
	}
	return nil, ErrCredentialsMissing
}

type unavailableCredentials struct{ err error }

// Unavailable returns Credentials whose every ClientFor call fails with err.
// It lets the server accept webhooks while GitHub access is misconfigured;
// the affected builds then fail in their credentials phase.
func Unavailable(err error) Credentials { return unavailableCredentials{err: err} }

func (u unavailableCredentials) ClientFor(context.Context, int64) (*Client, error) {
	return nil, u.err
}
