// Package forgetest provides an in-memory GitHub REST API for tests.
package forgetest

import (
	"crypto/sha1" //nolint:gosec // fake object ids only
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Operation names accepted by Fail.
const (
	OpGetRef       = "get ref"
	OpGetTree      = "get tree"
	OpGetBlob      = "get blob"
	OpCreateBlob   = "create blob"
	OpCreateTree   = "create tree"
	OpCreateCommit = "create commit"
	OpCreateRef    = "create ref"
	OpCreatePull   = "create pull request"
	OpAccessToken  = "access token"
)

// File is a blob placed in a seeded repository, in tree order.
type File struct {
	Path    string
	Content string
}

// CreatedTree records a tree creation request.
type CreatedTree struct {
	SHA      string
	BaseTree string
	Entries  []TreeEntry
}

// TreeEntry is one requested tree entry.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CreatedCommit records a commit creation request.
type CreatedCommit struct {
	SHA     string
	Message string
	Tree    string
	Parents []string
}

// CreatedPull records a pull request creation request.
type CreatedPull struct {
	Number int
	Title  string
	Body   string
	Head   string
	Base   string
	URL    string
}

type repo struct {
	branches map[string]string
	trees    map[string][]treeNode
}

type treeNode struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
}

// Server is a fake GitHub. All recorded slices are in request order.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	repos     map[string]*repo
	blobs     map[string][]byte
	failures  map[string]int
	truncated bool

	createdBlobs []string
	trees        []CreatedTree
	commits      []CreatedCommit
	refs         map[string]string
	pulls        []CreatedPull
	authHeaders  []string
	calls        []string
}

// NewServer starts a fake GitHub. Callers close it.
func NewServer() *Server {
	s := &Server{
		repos:    make(map[string]*repo),
		blobs:    make(map[string][]byte),
		failures: make(map[string]int),
		refs:     make(map[string]string),
	}
	r := chi.NewRouter()
	r.Use(s.recordAuth)
	r.Post("/app/installations/{id}/access_tokens", s.op(OpAccessToken, s.accessToken))
	r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
		r.Get("/git/ref/*", s.op(OpGetRef, s.getRef))
		r.Get("/git/trees/{sha}", s.op(OpGetTree, s.getTree))
		r.Get("/git/blobs/{sha}", s.op(OpGetBlob, s.getBlob))
		r.Post("/git/blobs", s.op(OpCreateBlob, s.createBlob))
		r.Post("/git/trees", s.op(OpCreateTree, s.createTree))
		r.Post("/git/commits", s.op(OpCreateCommit, s.createCommit))
		r.Post("/git/refs", s.op(OpCreateRef, s.createRef))
		r.Post("/pulls", s.op(OpCreatePull, s.createPull))
	})
	s.Server = httptest.NewServer(r)
	return s
}

// AddRepo seeds fullName with one branch whose commit tree holds files.
// It returns the branch head commit SHA.
func (s *Server) AddRepo(fullName, branch string, files []File) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rp, ok := s.repos[fullName]
	if !ok {
		rp = &repo{branches: make(map[string]string), trees: make(map[string][]treeNode)}
		s.repos[fullName] = rp
	}
	nodes := make([]treeNode, 0, len(files))
	for _, f := range files {
		sha := plumbing.ComputeHash(plumbing.BlobObject, []byte(f.Content)).String()
		s.blobs[sha] = []byte(f.Content)
		nodes = append(nodes, treeNode{Path: f.Path, Mode: "100644", Type: "blob", SHA: sha, Size: len(f.Content)})
	}
	commit := fakeSHA("commit", fullName, branch, len(files))
	rp.branches[branch] = commit
	rp.trees[commit] = nodes
	return commit
}

// AddTreeEntry appends a raw entry, such as a "tree" node, to the branch head tree.
func (s *Server) AddTreeEntry(fullName, branch, path, typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[fullName]
	head := rp.branches[branch]
	rp.trees[head] = append(rp.trees[head], treeNode{Path: path, Mode: "040000", Type: typ, SHA: fakeSHA(path)})
}

// SetTruncated makes tree listings report truncation.
func (s *Server) SetTruncated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncated = v
}

// Fail makes every request for op answer with status.
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = status
}

// BlobContent returns the content stored under sha.
func (s *Server) BlobContent(sha string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[sha]
	return string(b), ok
}

// CallCount counts recorded requests for op.
func (s *Server) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Calls returns the operation names of every request received.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CreatedBlobs returns the SHAs of created blobs.
func (s *Server) CreatedBlobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.createdBlobs...)
}

// Trees returns the created trees.
func (s *Server) Trees() []CreatedTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedTree(nil), s.trees...)
}

// Commits returns the created commits.
func (s *Server) Commits() []CreatedCommit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedCommit(nil), s.commits...)
}

// Refs returns created references mapped to their target SHA.
func (s *Server) Refs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.refs))
	for k, v := range s.refs {
		out[k] = v
	}
	return out
}

// Pulls returns the created pull requests.
func (s *Server) Pulls() []CreatedPull {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedPull(nil), s.pulls...)
}

// AuthHeaders returns the Authorization header of every request.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

func (s *Server) recordAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) op(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, name)
		status, fail := s.failures[name]
		s.mu.Unlock()
		if fail {
			writeJSON(w, status, map[string]string{"message": name + " failed"})
			return
		}
		h(w, r)
	}
}

func (s *Server) repo(r *http.Request) (*repo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.repos[chi.URLParam(r, "owner")+"/"+chi.URLParam(r, "repo")]
	return rp, ok
}

func (s *Server) accessToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      "ghs_installation_" + chi.URLParam(r, "id"),
		"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
}

func (s *Server) getRef(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.repo(r)
	ref := chi.URLParam(r, "*")
	branch := strings.TrimPrefix(ref, "heads/")
	s.mu.Lock()
	sha, found := "", false
	if ok {
		sha, found = rp.branches[branch]
	}
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/" + ref,
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	rp, ok := s.repo(r)
	sha := chi.URLParam(r, "sha")
	s.mu.Lock()
	var nodes []treeNode
	found := false
	if ok {
		nodes, found = rp.trees[sha]
	}
	truncated := s.truncated
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sha": sha, "tree": nodes, "truncated": truncated})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	content, ok := s.BlobContent(chi.URLParam(r, "sha"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.github.raw")
	_, _ = w.Write([]byte(content))
}

func (s *Server) createBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if !decode(w, r, &req) {
		return
	}
	sha := plumbing.ComputeHash(plumbing.BlobObject, []byte(req.Content)).String()
	s.mu.Lock()
	s.blobs[sha] = []byte(req.Content)
	s.createdBlobs = append(s.createdBlobs, sha)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *Server) createTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string      `json:"base_tree"`
		Tree     []TreeEntry `json:"tree"`
	}
	if !decode(w, r, &req) {
		return
	}
	sha := fakeSHA("tree", req.BaseTree, req.Tree)
	s.mu.Lock()
	s.trees = append(s.trees, CreatedTree{SHA: sha, BaseTree: req.BaseTree, Entries: req.Tree})
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *Server) createCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if !decode(w, r, &req) {
		return
	}
	sha := fakeSHA("commit", req.Message, req.Tree, req.Parents)
	s.mu.Lock()
	s.commits = append(s.commits, CreatedCommit{SHA: sha, Message: req.Message, Tree: req.Tree, Parents: req.Parents})
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *Server) createRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	_, exists := s.refs[req.Ref]
	if !exists {
		s.refs[req.Ref] = req.SHA
	}
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": req.Ref, "object": map[string]string{"sha": req.SHA}})
}

func (s *Server) createPull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Head  string `json:"head"`
		Base  string `json:"base"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	number := len(s.pulls) + 1
	url := fmt.Sprintf("https://github.com/%s/%s/pull/%d", chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	s.pulls = append(s.pulls, CreatedPull{Number: number, Title: req.Title, Body: req.Body, Head: req.Head, Base: req.Base, URL: url})
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"number": number, "html_url": url})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fakeSHA(parts ...any) string {
	h := sha1.New() //nolint:gosec // fake object ids only
	_, _ = fmt.Fprint(h, parts...)
	return hex.EncodeToString(h.Sum(nil))
}
