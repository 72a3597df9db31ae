package ipkgversion

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// GitHubTagLister lists upstream release tags for a GitHub-hosted
// project. Recipes that declare a github_repo supplement (see
// recipe.Recipe.VersionSource) use this to check whether the recipe's
// declared version is still current — a supplemental feature beyond
// spec.md's literal recipe.version field, not part of the solver or
// build pipeline themselves.
type GitHubTagLister struct {
	client *github.Client
}

// NewGitHubTagLister builds a lister. If the GITHUB_TOKEN environment
// variable is set, requests are authenticated (raising the otherwise
// low unauthenticated rate limit), mirroring the teacher's
// internal/version.Resolver.
func NewGitHubTagLister() *GitHubTagLister {
	var httpClient *http.Client
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	return &GitHubTagLister{client: github.NewClient(httpClient)}
}

// ListTags returns every tag name for "owner/repo", newest-API-page
// first (GitHub does not sort tags by semantic version; callers that
// care about ordering should parse and sort the result themselves,
// e.g. with ipkgversion.Parse).
func (l *GitHubTagLister) ListTags(ctx context.Context, repo string) ([]string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "invalid github repo %q: expected owner/repo", repo)
	}

	var versions []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		tags, resp, err := l.client.Repositories.ListTags(ctx, owner, name, opts)
		if err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "list tags for %s", repo)
		}
		for _, tag := range tags {
			if tag.Name != nil {
				versions = append(versions, *tag.Name)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return versions, nil
}

// Latest returns the highest version among the repo's tags once each
// is passed through ApplyFormat with the given format (and, if
// tagPrefix is non-empty, filtered to tags carrying that prefix, with
// the prefix stripped before parsing). Tags whose formatted form does
// not start with a digit are not versions and are skipped.
func (l *GitHubTagLister) Latest(ctx context.Context, repo, tagPrefix, format string) (Version, error) {
	tags, err := l.ListTags(ctx, repo)
	if err != nil {
		return Version{}, err
	}

	var best *Version
	for _, tag := range tags {
		if tagPrefix != "" {
			if !strings.HasPrefix(tag, tagPrefix) {
				continue
			}
			tag = strings.TrimPrefix(tag, tagPrefix)
		}
		formatted, err := ApplyFormat(format, tag)
		if err != nil {
			continue // skip tags that don't fit the declared format
		}
		v := Parse(formatted)
		if !v.segments[0].hasNum {
			continue // e.g. "release-bogus": no leading numeric segment
		}
		if best == nil || best.Less(v) {
			best = &v
		}
	}
	if best == nil {
		return Version{}, ipkgerr.New(ipkgerr.NotFound, "no tags matched for %s", repo)
	}
	return *best, nil
}
