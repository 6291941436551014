package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePush = `{
  "ref": "refs/heads/main",
  "after": "0d1a26e67d8f5eaf1f6ba5c57fc3c7d91ac0fd1c",
  "repository": {
    "id": 1296269,
    "full_name": "octocat/Hello-World",
    "default_branch": "main",
    "created_at": 1700000000,
    "pushed_at": 1700000100
  },
  "installation": {"id": 99},
  "head_commit": {
    "id": "0d1a26e67d8f5eaf1f6ba5c57fc3c7d91ac0fd1c",
    "message": "Add parser",
    "author": {"name": "Mona Lisa", "email": "mona@example.com"},
    "committer": {"name": "GitHub", "email": "noreply@github.com"}
  }
}`

func TestParsePush(t *testing.T) {
	p, err := ParsePush([]byte(samplePush))
	require.NoError(t, err)

	assert.Equal(t, int64(1296269), p.RepositoryID)
	assert.Equal(t, "octocat/Hello-World", p.RepositoryFullName)
	assert.Equal(t, "main", p.DefaultBranch)
	assert.Equal(t, "0d1a26e67d8f5eaf1f6ba5c57fc3c7d91ac0fd1c", p.CommitSHA)
	assert.Equal(t, int64(99), p.InstallationID)
	require.NotNil(t, p.HeadCommit)
	assert.Equal(t, "Mona Lisa", p.HeadCommit.AuthorName)
	assert.Equal(t, "GitHub", p.HeadCommit.CommitterName)
	assert.Equal(t, "Add parser", p.HeadCommit.Message)
	assert.Equal(t, "main", p.Branch())
	assert.True(t, p.OnDefaultBranch())
}

func TestParsePushNullHeadCommit(t *testing.T) {
	p, err := ParsePush([]byte(`{"ref":"refs/heads/main","after":"abc","head_commit":null,
		"repository":{"id":1,"full_name":"o/r","default_branch":"main"}}`))
	require.NoError(t, err)
	assert.Nil(t, p.HeadCommit)
	assert.Equal(t, "abc", p.CommitSHA)
}

func TestParsePushFallsBackToHeadCommitID(t *testing.T) {
	p, err := ParsePush([]byte(`{"ref":"refs/heads/main","head_commit":{"id":"def","message":"m"},
		"repository":{"id":1,"full_name":"o/r","default_branch":"main"}}`))
	require.NoError(t, err)
	assert.Equal(t, "def", p.CommitSHA)
}

func TestParsePushInvalidJSON(t *testing.T) {
	_, err := ParsePush([]byte(`{not json`))
	assert.Error(t, err)
}

func TestPushBranch(t *testing.T) {
	tests := []struct {
		ref       string
		def       string
		branch    string
		onDefault bool
	}{
		{"refs/heads/main", "main", "main", true},
		{"refs/heads/feature/x", "main", "feature/x", false},
		{"refs/tags/v1.0.0", "main", "", false},
		{"refs/heads/main", "", "main", false},
		{"main", "main", "", false},
	}
	for _, tt := range tests {
		p := &Push{Ref: tt.ref, DefaultBranch: tt.def}
		assert.Equal(t, tt.branch, p.Branch(), tt.ref)
		assert.Equal(t, tt.onDefault, p.OnDefaultBranch(), tt.ref)
	}
}
