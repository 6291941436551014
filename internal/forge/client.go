// Package forge wraps the GitHub REST API calls the build pipeline needs:
// reading a branch tree and writing blobs, trees, commits, refs and pull requests.
package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
)

// DefaultAPIBaseURL is the public GitHub REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com/"

// Repo identifies a repository by owner and name.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo splits "owner/name".
func ParseRepo(fullName string) (Repo, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository name %q", fullName)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// TreeEntry is one node of a recursive git tree listing.
type TreeEntry struct {
	Path string
	Mode string
	Type string
	SHA  string
	Size int
}

// Tree is a recursive listing of a commit's tree.
type Tree struct {
	SHA       string
	Entries   []TreeEntry
	Truncated bool
}

// NewTreeEntry is a blob placed into a new tree.
type NewTreeEntry struct {
	Path string
	Mode string
	SHA  string
}

// PullRequest describes a pull request to open.
type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Client is an installation- or token-scoped GitHub API client.
type Client struct {
	gh *github.Client
}

// NewClient builds a Client on httpClient, which carries authentication.
// An empty baseURL selects DefaultAPIBaseURL.
func NewClient(httpClient *http.Client, baseURL string) (*Client, error) {
	gh := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api base url: %w", err)
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh}, nil
}

// ResolveBranch returns the commit SHA at refs/heads/branch.
func (c *Client) ResolveBranch(ctx context.Context, repo Repo, branch string) (string, error) {
	ref, _, err := c.gh.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if err != nil {
		return "", classify("get ref", err)
	}
	return ref.GetObject().GetSHA(), nil
}

// Tree fetches the recursive tree of a commit or tree SHA.
func (c *Client) Tree(ctx context.Context, repo Repo, sha string) (*Tree, error) {
	t, _, err := c.gh.Git.GetTree(ctx, repo.Owner, repo.Name, sha, true)
	if err != nil {
		return nil, classify("get tree", err)
	}
	out := &Tree{SHA: t.GetSHA(), Truncated: t.GetTruncated(), Entries: make([]TreeEntry, 0, len(t.Entries))}
	for _, e := range t.Entries {
		out.Entries = append(out.Entries, TreeEntry{
			Path: e.GetPath(),
			Mode: e.GetMode(),
			Type: e.GetType(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
		})
	}
	return out, nil
}

// BlobContent fetches a blob's raw bytes.
func (c *Client) BlobContent(ctx context.Context, repo Repo, sha string) ([]byte, error) {
	data, _, err := c.gh.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, sha)
	if err != nil {
		return nil, classify("get blob", err)
	}
	return data, nil
}

// CreateBlob stores content as a UTF-8 blob and returns its SHA.
func (c *Client) CreateBlob(ctx context.Context, repo Repo, content string) (string, error) {
	blob, _, err := c.gh.Git.CreateBlob(ctx, repo.Owner, repo.Name, &github.Blob{
		Content:  github.Ptr(content),
		Encoding: github.Ptr("utf-8"),
	})
	if err != nil {
		return "", classify("create blob", err)
	}
	return blob.GetSHA(), nil
}

// CreateTree overlays entries onto baseTree and returns the new tree SHA.
func (c *Client) CreateTree(ctx context.Context, repo Repo, baseTree string, entries []NewTreeEntry) (string, error) {
	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		ghEntries = append(ghEntries, &github.TreeEntry{
			Path: github.Ptr(e.Path),
			Mode: github.Ptr(e.Mode),
			Type: github.Ptr("blob"),
			SHA:  github.Ptr(e.SHA),
		})
	}
	t, _, err := c.gh.Git.CreateTree(ctx, repo.Owner, repo.Name, baseTree, ghEntries)
	if err != nil {
		return "", classify("create tree", err)
	}
	return t.GetSHA(), nil
}

// CreateCommit creates a commit object and returns its SHA.
func (c *Client) CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string) (string, error) {
	commit := &github.Commit{
		Message: github.Ptr(message),
		Tree:    &github.Tree{SHA: github.Ptr(tree)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.Ptr(p)})
	}
	created, _, err := c.gh.Git.CreateCommit(ctx, repo.Owner, repo.Name, commit, nil)
	if err != nil {
		return "", classify("create commit", err)
	}
	return created.GetSHA(), nil
}

// CreateRef creates a fully qualified reference such as refs/heads/x pointing at sha.
func (c *Client) CreateRef(ctx context.Context, repo Repo, ref, sha string) error {
	_, _, err := c.gh.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
		Ref:    github.Ptr(ref),
		Object: &github.GitObject{SHA: github.Ptr(sha)},
	})
	if err != nil {
		return classify("create ref", err)
	}
	return nil
}

// OpenPullRequest opens a pull request and returns its HTML URL.
func (c *Client) OpenPullRequest(ctx context.Context, repo Repo, pr PullRequest) (string, error) {
	created, _, err := c.gh.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.Ptr(pr.Title),
		Body:  github.Ptr(pr.Body),
		Head:  github.Ptr(pr.Head),
		Base:  github.Ptr(pr.Base),
	})
	if err != nil {
		return "", classify("create pull request", err)
	}
	return created.GetHTMLURL(), nil
}
