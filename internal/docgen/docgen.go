// Package docgen asks a Gemini model for a markdown document describing a
// source snapshot.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

const maxResponseBytes = 8 * 1024 * 1024

const promptTemplate = "You are an expert technical writer. Based on the following codebase files, " +
	"write a comprehensive and beautiful README/Documentation markdown file. Keep it professional.\n\n" +
	"Codebase context:\n%s\n\nOutput ONLY the markdown content, no conversational filler."

// Prompt builds the generation prompt for an aggregated context.
func Prompt(sourceContext string) string {
	return fmt.Sprintf(promptTemplate, sourceContext)
}

// Generator turns an aggregated source context into one markdown document.
type Generator interface {
	Generate(ctx context.Context, sourceContext string) (string, error)
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a Gemini client. timeout bounds each Generate call.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends the prompt for sourceContext and returns the cleaned markdown.
// Empty or structurally empty output is an error.
func (c *Client) Generate(ctx context.Context, sourceContext string) (string, error) {
	if c.apiKey == "" {
		return "", errors.ConfigError("gemini api key is not configured").Build()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: Prompt(sourceContext)}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.WrapError(err, errors.CategoryGeneration, "documentation generation timed out").
				WithContext("timeout", c.timeout.String()).Build()
		}
		return "", errors.WrapError(err, errors.CategoryNetwork, "call gemini").Retryable().Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryNetwork, "read gemini response").Build()
	}
	if len(data) > maxResponseBytes {
		return "", errors.GenerationError("gemini response too large").Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, data)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", errors.WrapError(err, errors.CategoryGeneration, "decode gemini response").Build()
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", errors.GenerationError("prompt blocked by model").
			WithContext("reason", out.PromptFeedback.BlockReason).Build()
	}
	if len(out.Candidates) == 0 {
		return "", errors.GenerationError("model returned no candidates").Build()
	}
	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	doc := StripFence(text.String())
	if !HasContent(doc) {
		return "", errors.GenerationError("model returned an empty document").
			WithContext("finish_reason", out.Candidates[0].FinishReason).Build()
	}
	return doc, nil
}

func statusError(status int, body []byte) error {
	var ae apiError
	msg := http.StatusText(status)
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	b := errors.GenerationError(fmt.Sprintf("gemini returned HTTP %d: %s", status, msg)).
		WithContext("status", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		b = errors.AuthError(fmt.Sprintf("gemini rejected credentials: %s", msg)).WithContext("status", status)
	case status == http.StatusTooManyRequests:
		b = b.RateLimit()
	case status >= 500:
		b = b.Retryable()
	}
	return b.Build()
}
