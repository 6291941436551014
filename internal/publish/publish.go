// Package publish writes a documentation set to a repository as one commit on
// a fresh branch and opens a pull request for it.
package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/inful/mdfp"

	"git.home.luguber.info/inful/polydocs/internal/aggregate"
	"git.home.luguber.info/inful/polydocs/internal/forge"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/localize"
)

const (
	// CommitMessage is the message of every documentation commit.
	CommitMessage = "docs: auto-generate POLYDOCS.md via PolyDocs webhook"
	// BranchPrefix starts every documentation branch name.
	BranchPrefix = "polydocs-update-"
	// PullRequestTitle is the title of every documentation pull request.
	PullRequestTitle = "Automated Documentation Update (PolyDocs)"
	// PullRequestBody is the body of every documentation pull request.
	PullRequestBody = "This PR was automatically generated by PolyDocs in response to your recent pushes. " +
		"It contains localized translations of the `POLYDOCS.md` file."

	fileMode = "100644"
)

// Target is the write side of the forge.
type Target interface {
	CreateBlob(ctx context.Context, repo forge.Repo, content string) (string, error)
	CreateTree(ctx context.Context, repo forge.Repo, baseTree string, entries []forge.NewTreeEntry) (string, error)
	CreateCommit(ctx context.Context, repo forge.Repo, message, tree string, parents []string) (string, error)
	CreateRef(ctx context.Context, repo forge.Repo, ref, sha string) error
	OpenPullRequest(ctx context.Context, repo forge.Repo, pr forge.PullRequest) (string, error)
}

// Request describes one documentation set to publish.
type Request struct {
	Repo         forge.Repo
	BaseBranch   string
	BaseSHA      string
	SourceLocale string
	Source       string
	Localized    []localize.Document
}

// File is one document written into the commit.
type File struct {
	Path        string
	Locale      string
	BlobSHA     string
	Fingerprint string
}

// Prepared is a commit that exists in the repository but is not yet
// reachable from any branch.
type Prepared struct {
	Repo       forge.Repo
	BaseBranch string
	BaseSHA    string
	TreeSHA    string
	CommitSHA  string
	Files      []File
}

// Result is a published documentation set.
type Result struct {
	*Prepared
	Branch string
	PRURL  string
}

// Publisher composes git objects through a Target.
type Publisher struct {
	now func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClock overrides the time source used for branch names.
func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

// New returns a Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Documents orders the set as written: the source document first, then one
// entry per localized document in request order.
func (r Request) Documents() []localize.Document {
	docs := make([]localize.Document, 0, len(r.Localized)+1)
	docs = append(docs, localize.Document{Locale: r.SourceLocale, Markdown: r.Source})
	return append(docs, r.Localized...)
}

// Prepare creates the blobs, the tree over BaseSHA and the commit.
func (p *Publisher) Prepare(ctx context.Context, t Target, req Request) (*Prepared, error) {
	if req.BaseSHA == "" || req.BaseBranch == "" {
		return nil, errors.ValidationError("base branch and commit are required").Build()
	}
	docs := req.Documents()
	files := make([]File, 0, len(docs))
	entries := make([]forge.NewTreeEntry, 0, len(docs))
	for i, d := range docs {
		path := aggregate.OutputName
		if i > 0 {
			path = aggregate.LocalizedName(d.Locale)
		}
		sha, err := t.CreateBlob(ctx, req.Repo, d.Markdown)
		if err != nil {
			return nil, fmt.Errorf("create blob %s: %w", path, err)
		}
		if want := BlobHash(d.Markdown); sha != want {
			return nil, errors.ForgeError("blob hash mismatch").
				WithContext("path", path).WithContext("got", sha).WithContext("want", want).Build()
		}
		files = append(files, File{
			Path:        path,
			Locale:      d.Locale,
			BlobSHA:     sha,
			Fingerprint: mdfp.CalculateFingerprintFromParts("", d.Markdown),
		})
		entries = append(entries, forge.NewTreeEntry{Path: path, Mode: fileMode, SHA: sha})
	}

	tree, err := t.CreateTree(ctx, req.Repo, req.BaseSHA, entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	commit, err := t.CreateCommit(ctx, req.Repo, CommitMessage, tree, []string{req.BaseSHA})
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}
	return &Prepared{
		Repo:       req.Repo,
		BaseBranch: req.BaseBranch,
		BaseSHA:    req.BaseSHA,
		TreeSHA:    tree,
		CommitSHA:  commit,
		Files:      files,
	}, nil
}

// Open points a new branch at the prepared commit and opens the pull request.
func (p *Publisher) Open(ctx context.Context, t Target, prep *Prepared) (*Result, error) {
	if prep == nil || prep.CommitSHA == "" {
		return nil, errors.InternalError("open called without a prepared commit").Build()
	}
	branch := BranchName(p.now())
	if err := t.CreateRef(ctx, prep.Repo, plumbing.NewBranchReferenceName(branch).String(), prep.CommitSHA); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", branch, err)
	}
	url, err := t.OpenPullRequest(ctx, prep.Repo, forge.PullRequest{
		Title: PullRequestTitle,
		Body:  PullRequestBody,
		Head:  branch,
		Base:  prep.BaseBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("open pull request: %w", err)
	}
	return &Result{Prepared: prep, Branch: branch, PRURL: url}, nil
}

// Publish runs Prepare and Open.
func (p *Publisher) Publish(ctx context.Context, t Target, req Request) (*Result, error) {
	prep, err := p.Prepare(ctx, t, req)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx, t, prep)
}

// BranchName returns the documentation branch name for now.
func BranchName(now time.Time) string {
	return BranchPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// BlobHash is the git object id of content stored as a blob.
func BlobHash(content string) string {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content)).String()
}
