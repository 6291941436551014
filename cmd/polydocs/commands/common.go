package commands

import (
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/polydocs/internal/config"
)

// DefaultConfigPath is used when --config is not given. A missing default
// file is not an error; the environment alone can configure a deployment.
const DefaultConfigPath = "polydocs.yaml"

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"polydocs.yaml" env:"POLYDOCS_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve   ServeCmd   `cmd:"" help:"Receive GitHub webhooks and compile documentation builds"`
	Worker  WorkerCmd  `cmd:"" help:"Consume builds from the NATS JetStream work queue"`
	Migrate MigrateCmd `cmd:"" help:"Apply or inspect build ledger migrations"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Sign    SignCmd    `cmd:"" help:"Compute the X-Hub-Signature-256 header for a payload"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// configPath returns the file to load, or "" when the default file is absent.
func (c *CLI) configPath() string {
	if c.Config != DefaultConfigPath {
		return c.Config
	}
	if _, err := os.Stat(c.Config); stderrors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return c.Config
}

// LoadConfig loads and validates the configuration selected by the global flags.
func (c *CLI) LoadConfig() (*config.Config, error) {
	return config.Load(c.configPath())
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}
