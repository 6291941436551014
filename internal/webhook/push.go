package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
)

const branchRefPrefix = "refs/heads/"

// Push is the subset of a push delivery the pipeline acts on.
type Push struct {
	RepositoryID       int64
	RepositoryFullName string
	DefaultBranch      string
	Ref                string
	CommitSHA          string
	InstallationID     int64
	HeadCommit         *botfilter.Commit
}

// ParsePush decodes a push event body.
func ParsePush(body []byte) (*Push, error) {
	var ev github.PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}
	p := &Push{
		RepositoryID:       ev.GetRepo().GetID(),
		RepositoryFullName: ev.GetRepo().GetFullName(),
		DefaultBranch:      ev.GetRepo().GetDefaultBranch(),
		Ref:                ev.GetRef(),
		CommitSHA:          ev.GetAfter(),
		InstallationID:     ev.GetInstallation().GetID(),
	}
	if hc := ev.GetHeadCommit(); hc != nil {
		p.HeadCommit = &botfilter.Commit{
			AuthorName:    hc.GetAuthor().GetName(),
			CommitterName: hc.GetCommitter().GetName(),
			Message:       hc.GetMessage(),
		}
		if p.CommitSHA == "" {
			p.CommitSHA = hc.GetID()
		}
	}
	return p, nil
}

// Branch returns the pushed branch name, or "" for tag and other non-branch refs.
func (p *Push) Branch() string {
	if !strings.HasPrefix(p.Ref, branchRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(p.Ref, branchRefPrefix)
}

// OnDefaultBranch reports whether the push targets the repository default branch.
func (p *Push) OnDefaultBranch() bool {
	b := p.Branch()
	return b != "" && b == p.DefaultBranch
}
