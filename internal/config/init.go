package config

import (
	"os"

	foundationerrors "git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

const exampleConfig = `# polydocs configuration
# ${VAR} references are expanded from the environment (.env and .env.local are loaded first).

server:
  port: 3001
  webhook_path: /api/webhooks/github

github:
  # GitHub App mode. Leave app_id unset and set token for a single-account token instead.
  app_id: ${GITHUB_APP_ID}
  private_key: "${GITHUB_PRIVATE_KEY}"
  webhook_secret: "${GITHUB_WEBHOOK_SECRET}"

gemini:
  api_key: "${GEMINI_API_KEY}"
  model: gemini-2.5-flash
  timeout: 60s

lingo:
  api_key: "${LINGO_API_KEY}"

pipeline:
  source_locale: en
  target_locales: [es, fr, ja]
  max_files: 10

bot_filter:
  rules:
    - {field: author, pattern: "[bot]"}
    - {field: author, pattern: polydocs}
    - {field: committer, pattern: "[bot]"}
    - {field: committer, pattern: polydocs}
    - {field: message, pattern: "auto-generate POLYDOCS.md"}
    - {field: message, pattern: "Automated Documentation Update"}
    - {field: message, pattern: "polydocs-update-"}

ledger:
  driver: sqlite
  dsn: polydocs.db

queue:
  driver: memory
  workers: 2
  capacity: 100
  retry:
    backoff: exponential
    initial: 5s
    max: 2m
  nats:
    url: ${NATS_URL}
    stream: POLYDOCS_BUILDS
    subject: polydocs.builds
    consumer: polydocs-compiler
    ack_wait: 2m
    max_deliver: 5

reconcile:
  interval: 5m
  stale_building_after: 30m
  stale_pending_after: 5m
`

// Init writes an example configuration file. An existing file is kept unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return foundationerrors.ValidationError("configuration file already exists (use --force to overwrite)").
				WithContext("path", path).Build()
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "write configuration file").
			WithContext("path", path).Build()
	}
	return nil
}
