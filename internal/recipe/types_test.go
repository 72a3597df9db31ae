package recipe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWhenClauseMatches(t *testing.T) {
	w := &WhenClause{Platform: []string{"linux-ubuntu-22.04"}}
	require.True(t, w.Matches("linux-ubuntu-22.04"))
	require.False(t, w.Matches("darwin-any-14"))
}

func TestWhenClauseEmptyMatchesEverything(t *testing.T) {
	var w *WhenClause
	require.True(t, w.Matches("anything"))
}

func TestWhenClauseAnyWildcard(t *testing.T) {
	w := &WhenClause{Platform: []string{"any"}}
	require.True(t, w.Matches("darwin-any-14"))
}

func TestStepToMapRoundTrip(t *testing.T) {
	step := Step{
		Action: "run",
		When:   &WhenClause{Platform: []string{"linux-ubuntu-22.04"}},
		Params: map[string]interface{}{"command": []interface{}{"make", "install"}},
	}
	m := step.ToMap()
	require.Equal(t, "run", m["action"])
	require.NotNil(t, m["when"])
	require.Equal(t, []interface{}{"make", "install"}, m["command"])
}

func TestRecipeToTOMLIncludesCoreFields(t *testing.T) {
	r := &Recipe{
		Name:         "foo",
		Version:      "1.0",
		Revision:     1,
		Dependencies: []string{"bar>=1.0"},
		Sources:      []Source{{URL: "https://example.com/foo.tar.gz"}},
	}
	out, err := r.ToTOML()
	require.NoError(t, err)
	require.Contains(t, string(out), `name = "foo"`)
	require.Contains(t, string(out), `version = "1.0"`)
	require.Contains(t, string(out), `url = "https://example.com/foo.tar.gz"`)
}

func TestRecipeCustomReflectsSteps(t *testing.T) {
	r := &Recipe{Name: "foo", Version: "1.0"}
	require.False(t, r.Custom())
	r.Install.Steps = []Step{{Action: "run"}}
	require.True(t, r.Custom())
}
