// Package aggregate selects a bounded set of source files from a repository
// tree and renders them into a generation context.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"git.home.luguber.info/inful/polydocs/internal/forge"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
)

// OutputName is the source-language document the pipeline publishes.
const OutputName = "POLYDOCS.md"

// Source is the read side of the forge the aggregator needs.
type Source interface {
	ResolveBranch(ctx context.Context, repo forge.Repo, branch string) (string, error)
	Tree(ctx context.Context, repo forge.Repo, sha string) (*forge.Tree, error)
	BlobContent(ctx context.Context, repo forge.Repo, sha string) ([]byte, error)
}

// SourceFile is one selected file at the snapshot commit.
type SourceFile struct {
	Path    string
	BlobSHA string
	Content string
}

// Snapshot is the selected content of a branch head.
type Snapshot struct {
	BaseSHA   string
	Files     []SourceFile
	Truncated bool
}

// Context renders every file as a fenced block headed by its path.
func (s Snapshot) Context() string {
	var b strings.Builder
	for _, f := range s.Files {
		fmt.Fprintf(&b, "\n\n--- %s ---\n```\n%s\n```\n", f.Path, f.Content)
	}
	return b.String()
}

// Paths lists the selected paths in order.
func (s Snapshot) Paths() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Path
	}
	return out
}

// Selection controls which tree entries are kept.
type Selection struct {
	MaxFiles     int
	Extensions   []string
	ExcludedDirs []string
}

// Aggregator walks repository trees.
type Aggregator struct {
	sel    Selection
	exts   map[string]struct{}
	dirs   map[string]struct{}
	logger *slog.Logger
}

// New returns an Aggregator for sel. Extensions are matched case-insensitively
// with or without a leading dot.
func New(sel Selection, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		sel:    sel,
		exts:   make(map[string]struct{}, len(sel.Extensions)),
		dirs:   make(map[string]struct{}, len(sel.ExcludedDirs)),
		logger: logger,
	}
	for _, e := range sel.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		a.exts[e] = struct{}{}
	}
	for _, d := range sel.ExcludedDirs {
		a.dirs[strings.Trim(d, "/")] = struct{}{}
	}
	return a
}

// Aggregate resolves branch, lists the tree at its head and fetches the
// selected blobs. An empty selection is not an error.
func (a *Aggregator) Aggregate(ctx context.Context, src Source, repo forge.Repo, branch string) (*Snapshot, error) {
	log := a.logger.With(logfields.Repository(repo.String()), logfields.Branch(branch))

	sha, err := src.ResolveBranch(ctx, repo, branch)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	tree, err := src.Tree(ctx, repo, sha)
	if err != nil {
		return nil, fmt.Errorf("list tree %s: %w", sha, err)
	}
	if tree.Truncated {
		log.Warn("Repository tree listing was truncated; selection may be incomplete", logfields.Commit(sha))
	}

	snap := &Snapshot{BaseSHA: sha, Truncated: tree.Truncated}
	for _, e := range a.Select(tree.Entries) {
		content, err := src.BlobContent(ctx, repo, e.SHA)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", e.Path, err)
		}
		snap.Files = append(snap.Files, SourceFile{Path: e.Path, BlobSHA: e.SHA, Content: string(content)})
	}
	log.Debug("Aggregated source files", logfields.Commit(sha), logfields.Count(len(snap.Files)))
	return snap, nil
}

// Select filters entries in tree order and caps the result at MaxFiles.
func (a *Aggregator) Select(entries []forge.TreeEntry) []forge.TreeEntry {
	var out []forge.TreeEntry
	for _, e := range entries {
		if a.sel.MaxFiles > 0 && len(out) >= a.sel.MaxFiles {
			break
		}
		if a.keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (a *Aggregator) keep(e forge.TreeEntry) bool {
	if e.Type != "blob" {
		return false
	}
	segments := strings.Split(e.Path, "/")
	for _, dir := range segments[:len(segments)-1] {
		if _, excluded := a.dirs[dir]; excluded {
			return false
		}
	}
	if IsOutput(e.Path) {
		return false
	}
	_, ok := a.exts[strings.ToLower(path.Ext(e.Path))]
	return ok
}

// IsOutput reports whether p is a document the pipeline itself writes:
// POLYDOCS.md or POLYDOCS.<locale>.md at any depth.
func IsOutput(p string) bool {
	name := path.Base(p)
	if name == OutputName {
		return true
	}
	locale, ok := strings.CutPrefix(name, "POLYDOCS.")
	if !ok {
		return false
	}
	locale, ok = strings.CutSuffix(locale, ".md")
	return ok && locale != "" && !strings.Contains(locale, ".")
}

// LocalizedName returns the file name for a locale's document.
func LocalizedName(locale string) string {
	return "POLYDOCS." + locale + ".md"
}
