// Package localize translates a markdown document into a set of target
// locales through the Lingo.dev localization engine.
package localize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

const maxResponseBytes = 8 * 1024 * 1024

// Document is one localized rendition.
type Document struct {
	Locale   string
	Markdown string
}

// Localizer produces exactly one document per target locale, in target order.
type Localizer interface {
	Localize(ctx context.Context, doc, sourceLocale string, targets []string) ([]Document, error)
}

// Client talks to the Lingo.dev engine.
type Client struct {
	baseURL     string
	apiKey      string
	timeout     time.Duration
	concurrency int
	http        *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.http = hc } }

// WithConcurrency caps parallel locale requests. Zero means one request per locale at once.
func WithConcurrency(n int) ClientOption { return func(c *Client) { c.concurrency = n } }

// NewClient returns a Lingo.dev client. timeout bounds each per-locale request.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type localeSpec struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type params struct {
	WorkflowID string `json:"workflowId"`
	Fast       bool   `json:"fast"`
}

type textPayload struct {
	Text string `json:"text"`
}

type i18nRequest struct {
	Params params      `json:"params"`
	Locale localeSpec  `json:"locale"`
	Data   textPayload `json:"data"`
}

type i18nResponse struct {
	Data  *textPayload `json:"data"`
	Error string       `json:"error"`
}

// Localize translates doc into every target. All requests in one call share a
// workflow id. The first failure cancels outstanding requests and is returned.
func (c *Client) Localize(ctx context.Context, doc, sourceLocale string, targets []string) ([]Document, error) {
	if c.apiKey == "" {
		return nil, errors.ConfigError("lingo api key is not configured").Build()
	}
	out := make([]Document, len(targets))
	workflowID := uuid.NewString()

	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, target := range targets {
		g.Go(func() error {
			text, err := c.localizeOne(gctx, workflowID, doc, sourceLocale, target)
			if err != nil {
				return err
			}
			out[i] = Document{Locale: target, Markdown: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) localizeOne(ctx context.Context, workflowID, doc, source, target string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body, err := json.Marshal(i18nRequest{
		Params: params{WorkflowID: workflowID},
		Locale: localeSpec{Source: source, Target: target},
		Data:   textPayload{Text: doc},
	})
	if err != nil {
		return "", fmt.Errorf("encode localization request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/i18n", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build localization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryNetwork, "call lingo").
			WithContext("locale", target).Retryable().Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryNetwork, "read lingo response").
			WithContext("locale", target).Build()
	}
	if len(data) > maxResponseBytes {
		return "", errors.LocalizationError("lingo response too large").WithContext("locale", target).Build()
	}

	var out i18nResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		b := errors.LocalizationError(fmt.Sprintf("lingo returned HTTP %d for %s: %s", resp.StatusCode, target, msg)).
			WithContext("locale", target).WithContext("status", resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			b = errors.AuthError(fmt.Sprintf("lingo rejected credentials: %s", msg)).WithContext("locale", target)
		case resp.StatusCode == http.StatusTooManyRequests:
			b = b.RateLimit()
		case resp.StatusCode >= 500:
			b = b.Retryable()
		}
		return "", b.Build()
	}
	if decodeErr != nil {
		return "", errors.WrapError(decodeErr, errors.CategoryLocalization, "decode lingo response").
			WithContext("locale", target).Build()
	}
	if out.Data == nil || strings.TrimSpace(out.Data.Text) == "" {
		return "", errors.LocalizationError(fmt.Sprintf("lingo returned no text for %s", target)).
			WithContext("locale", target).Build()
	}
	return out.Data.Text, nil
}
