package collector

import (
	"strconv"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/runghost/internal/domain"
)

// mergeableUnknown is stored for pull requests read from list endpoints,
// which never compute mergeability.
const mergeableUnknown = "unknown"

func toUser(u *github.User) *domain.UpstreamUser {
	return &domain.UpstreamUser{
		Login:       u.GetLogin(),
		ID:          u.GetID(),
		Name:        u.GetName(),
		AvatarURL:   u.GetAvatarURL(),
		HTMLURL:     u.GetHTMLURL(),
		Bio:         u.GetBio(),
		Company:     u.GetCompany(),
		Location:    u.GetLocation(),
		Email:       u.GetEmail(),
		PublicRepos: u.GetPublicRepos(),
		Followers:   u.GetFollowers(),
		Following:   u.GetFollowing(),
		CreatedAt:   u.GetCreatedAt().Time,
	}
}

// toRepository maps an upstream repository; IdentityID and ID are set by the caller
func toRepository(r *github.Repository) domain.Repository {
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	license := ""
	if r.License != nil {
		license = r.License.GetSPDXID()
		if license == "" {
			license = r.License.GetName()
		}
	}
	return domain.Repository{
		UpstreamID:  r.GetID(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		Private:     r.GetPrivate(),
		URLs: domain.RepositoryURLs{
			HTML:     r.GetHTMLURL(),
			Clone:    r.GetCloneURL(),
			SSH:      r.GetSSHURL(),
			Homepage: r.GetHomepage(),
		},
		Language: r.GetLanguage(),
		Size:     r.GetSize(),
		Counts: domain.RepositoryCounts{
			Stars:      r.GetStargazersCount(),
			Watchers:   r.GetWatchersCount(),
			Forks:      r.GetForksCount(),
			OpenIssues: r.GetOpenIssuesCount(),
		},
		DefaultBranch: r.GetDefaultBranch(),
		Timestamps: domain.RepositoryTimestamps{
			Created: r.GetCreatedAt().Time,
			Updated: r.GetUpdatedAt().Time,
			Pushed:  r.GetPushedAt().Time,
		},
		Archived: r.GetArchived(),
		Disabled: r.GetDisabled(),
		Topics:   topics,
		License:  license,
	}
}

func toIssue(i *github.Issue, repositoryID string) domain.Issue {
	return domain.Issue{
		ID:           domain.ChildID(repositoryID, strconv.Itoa(i.GetNumber())),
		RepositoryID: repositoryID,
		UpstreamID:   i.GetID(),
		Number:       i.GetNumber(),
		Title:        i.GetTitle(),
		Body:         i.GetBody(),
		State:        i.GetState(),
		Author:       toActor(i.User),
		Labels:       toLabels(i.Labels),
		Assignees:    toActors(i.Assignees),
		Milestone:    toMilestone(i.Milestone),
		Comments:     i.GetComments(),
		HTMLURL:      i.GetHTMLURL(),
		CreatedAt:    i.GetCreatedAt().Time,
		UpdatedAt:    i.GetUpdatedAt().Time,
		ClosedAt:     timePtr(i.ClosedAt),
	}
}

// toPullRequest maps a pull request from a list endpoint. Mergeability and
// the diff counters are only known on the single-PR endpoint.
func toPullRequest(pr *github.PullRequest, repositoryID string) domain.PullRequest {
	mergeableState := pr.GetMergeableState()
	if mergeableState == "" {
		mergeableState = mergeableUnknown
	}
	return domain.PullRequest{
		ID:                 domain.ChildID(repositoryID, strconv.Itoa(pr.GetNumber())),
		RepositoryID:       repositoryID,
		UpstreamID:         pr.GetID(),
		Number:             pr.GetNumber(),
		Title:              pr.GetTitle(),
		Body:               pr.GetBody(),
		State:              pr.GetState(),
		Author:             toActor(pr.User),
		Head:               toBranchRef(pr.Head),
		Base:               toBranchRef(pr.Base),
		Labels:             toLabels(pr.Labels),
		Assignees:          toActors(pr.Assignees),
		RequestedReviewers: toActors(pr.RequestedReviewers),
		Milestone:          toMilestone(pr.Milestone),
		Draft:              pr.GetDraft(),
		Merged:             pr.GetMerged() || pr.MergedAt != nil,
		Mergeable:          pr.Mergeable,
		MergeableState:     mergeableState,
		Comments:           pr.GetComments(),
		ReviewComments:     pr.GetReviewComments(),
		Commits:            pr.GetCommits(),
		Additions:          pr.GetAdditions(),
		Deletions:          pr.GetDeletions(),
		ChangedFiles:       pr.GetChangedFiles(),
		HTMLURL:            pr.GetHTMLURL(),
		CreatedAt:          pr.GetCreatedAt().Time,
		UpdatedAt:          pr.GetUpdatedAt().Time,
		ClosedAt:           timePtr(pr.ClosedAt),
		MergedAt:           timePtr(pr.MergedAt),
	}
}

func toRelease(r *github.RepositoryRelease, repositoryID string) domain.Release {
	assets := make([]domain.ReleaseAsset, 0, len(r.Assets))
	for _, a := range r.Assets {
		assets = append(assets, domain.ReleaseAsset{
			Name:               a.GetName(),
			ContentType:        a.GetContentType(),
			Size:               a.GetSize(),
			DownloadCount:      a.GetDownloadCount(),
			BrowserDownloadURL: a.GetBrowserDownloadURL(),
		})
	}
	return domain.Release{
		ID:           domain.ChildID(repositoryID, r.GetTagName()),
		RepositoryID: repositoryID,
		UpstreamID:   r.GetID(),
		TagName:      r.GetTagName(),
		Name:         r.GetName(),
		Body:         r.GetBody(),
		Draft:        r.GetDraft(),
		Prerelease:   r.GetPrerelease(),
		Author:       toActor(r.Author),
		Assets:       assets,
		HTMLURL:      r.GetHTMLURL(),
		TarballURL:   r.GetTarballURL(),
		ZipballURL:   r.GetZipballURL(),
		CreatedAt:    r.GetCreatedAt().Time,
		PublishedAt:  timePtr(r.PublishedAt),
	}
}

func toBranch(b *github.Branch, repositoryID string) domain.Branch {
	branch := domain.Branch{
		ID:           domain.ChildID(repositoryID, b.GetName()),
		RepositoryID: repositoryID,
		Name:         b.GetName(),
		Protected:    b.GetProtected(),
	}
	if b.Commit != nil {
		branch.CommitSHA = b.Commit.GetSHA()
		branch.CommitURL = b.Commit.GetURL()
	}
	return branch
}

func toActor(u *github.User) *domain.Actor {
	if u == nil {
		return nil
	}
	return &domain.Actor{
		Login:     u.GetLogin(),
		ID:        u.GetID(),
		AvatarURL: u.GetAvatarURL(),
		HTMLURL:   u.GetHTMLURL(),
	}
}

func toActors(users []*github.User) []domain.Actor {
	actors := make([]domain.Actor, 0, len(users))
	for _, u := range users {
		if u != nil {
			actors = append(actors, *toActor(u))
		}
	}
	return actors
}

func toLabels(labels []*github.Label) []domain.Label {
	result := make([]domain.Label, 0, len(labels))
	for _, l := range labels {
		result = append(result, domain.Label{
			Name:        l.GetName(),
			Color:       l.GetColor(),
			Description: l.GetDescription(),
		})
	}
	return result
}

func toMilestone(m *github.Milestone) *domain.Milestone {
	if m == nil {
		return nil
	}
	return &domain.Milestone{
		Number: m.GetNumber(),
		Title:  m.GetTitle(),
		State:  m.GetState(),
		DueOn:  timePtr(m.DueOn),
	}
}

func toBranchRef(b *github.PullRequestBranch) *domain.BranchRef {
	if b == nil {
		return nil
	}
	return &domain.BranchRef{Ref: b.GetRef(), SHA: b.GetSHA(), Label: b.GetLabel()}
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
