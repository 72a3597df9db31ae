package ipkgversion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/require"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

func mockTagsServer(t *testing.T, tags []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []*github.RepositoryTag
		for _, name := range tags {
			n := name
			payload = append(payload, &github.RepositoryTag{Name: &n})
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func listerAgainst(t *testing.T, server *httptest.Server) *GitHubTagLister {
	t.Helper()
	client, err := github.NewClient(nil).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	return &GitHubTagLister{client: client}
}

func TestGitHubTagLister_ListTags(t *testing.T) {
	server := mockTagsServer(t, []string{"v1.0.0", "v1.1.0", "v2.0.0"})
	lister := listerAgainst(t, server)

	tags, err := lister.ListTags(context.Background(), "owner/repo")
	require.NoError(t, err)
	require.Equal(t, []string{"v1.0.0", "v1.1.0", "v2.0.0"}, tags)
}

func TestGitHubTagLister_ListTags_InvalidRepo(t *testing.T) {
	lister := NewGitHubTagLister()
	_, err := lister.ListTags(context.Background(), "not-a-repo")
	require.Error(t, err)
	require.True(t, ipkgerr.Is(err, ipkgerr.InvalidInput))
}

func TestGitHubTagLister_Latest(t *testing.T) {
	server := mockTagsServer(t, []string{"v1.0.0", "v2.5.0", "v2.4.9", "release-bogus"})
	lister := listerAgainst(t, server)

	latest, err := lister.Latest(context.Background(), "owner/repo", "", FormatStripV)
	require.NoError(t, err)
	require.Equal(t, "2.5.0", latest.String())
}

func TestGitHubTagLister_Latest_WithPrefix(t *testing.T) {
	server := mockTagsServer(t, []string{"ruby-3.2.0", "ruby-3.3.1", "other-9.9.9"})
	lister := listerAgainst(t, server)

	latest, err := lister.Latest(context.Background(), "owner/repo", "ruby-", FormatRaw)
	require.NoError(t, err)
	require.Equal(t, "3.3.1", latest.String())
}
