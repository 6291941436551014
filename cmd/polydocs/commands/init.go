package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/polydocs/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Directory to write polydocs.yaml into instead of --config"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	path := root.Config
	if i.Output != "" {
		path = filepath.Join(i.Output, DefaultConfigPath)
	}
	return RunInit(path, i.Force, os.Stdout)
}

// RunInit writes a starter configuration to path and tells the operator what is left to fill in.
func RunInit(path string, force bool, out io.Writer) error {
	if err := config.Init(path, force); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "Wrote %s\nSet the GitHub credentials, GEMINI_API_KEY and LINGO_API_KEY, then run 'polydocs serve'\n", path)
	return err
}
