package forge

import (
	stderrors "errors"
	"net/http"

	"github.com/google/go-github/v68/github"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

var (
	// ErrCredentialsMissing signals that neither App nor token credentials are configured.
	ErrCredentialsMissing = errors.ConfigError("github credentials are not configured").Build()

	// ErrNoInstallation signals that App mode was asked for a client without an installation id.
	ErrNoInstallation = errors.AuthError("no github app installation for repository").Build()
)

// classify converts a go-github error into a ClassifiedError carrying the operation name.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if stderrors.As(err, &rateErr) {
		return errors.WrapError(err, errors.CategoryForge, op).RateLimit().
			WithContext("reset", rateErr.Rate.Reset.Time).Build()
	}
	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) {
		return errors.WrapError(err, errors.CategoryForge, op).RateLimit().Build()
	}

	var respErr *github.ErrorResponse
	if stderrors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		b := errors.WrapError(err, errors.CategoryForge, op).WithContext("status", status)
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			b = errors.WrapError(err, errors.CategoryAuth, op).UserAction().WithContext("status", status)
		case status == http.StatusNotFound:
			b = errors.WrapError(err, errors.CategoryNotFound, op).WithContext("status", status)
		case status >= 500:
			b = b.Retryable()
		}
		return b.Build()
	}

	return errors.WrapError(err, errors.CategoryNetwork, op).Retryable().Build()
}
