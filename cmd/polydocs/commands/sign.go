package commands

import (
	"fmt"
	"io"
	"os"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/webhook"
)

// SignCmd implements the 'sign' command, for replaying deliveries with curl.
type SignCmd struct {
	Payload string `arg:"" type:"existingfile" help:"File holding the exact request body"`
	Secret  string `help:"Webhook secret; defaults to the configured github.webhook_secret"`
}

func (s *SignCmd) Run(_ *Global, root *CLI) error {
	secret := s.Secret
	if secret == "" {
		cfg, err := root.LoadConfig()
		if err != nil {
			return err
		}
		secret = cfg.GitHub.WebhookSecret
	}
	return RunSign(s.Payload, secret, os.Stdout)
}

// RunSign prints the signature header line for the file at path.
func RunSign(path, secret string, out io.Writer) error {
	if secret == "" {
		return webhook.ErrSecretMissing
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "read payload file").
			WithContext("path", path).Build()
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", webhook.SignatureHeader, webhook.Sign(body, secret))
	return err
}
