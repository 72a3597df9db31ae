package solver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
)

func mkRecipe(name, version string, deps ...string) *recipe.Recipe {
	return &recipe.Recipe{Name: name, Version: version, Revision: 1, Dependencies: deps}
}

// recipeSource is an in-memory recipe repository.
type recipeSource struct {
	recipes []*recipe.Recipe
}

func (rs recipeSource) FindObjects(req ipkgversion.Requirement) ([]Object, error) {
	var out []Object
	for _, r := range rs.recipes {
		if r.Name != req.Name {
			continue
		}
		if req.Satisfies(ipkgversion.Parse(r.Version)) {
			out = append(out, RecipeObject{Recipe: r})
		}
	}
	return out, nil
}

func names(objs []Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Name()
	}
	return out
}

func labels(objs []Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = fmt.Sprintf("%s %s", o.Name(), o.Version().String())
	}
	return out
}

// indexOf fails the test when name is absent.
func indexOf(t *testing.T, list []string, name string) int {
	t.Helper()
	for i, n := range list {
		if n == name {
			return i
		}
	}
	t.Fatalf("%q not found in %v", name, list)
	return -1
}

func solveFromRoot(t *testing.T, root Object, src Source) []Object {
	t.Helper()
	s, err := FromObject(root, nil, []Source{src}, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)
	result, err := s.Solve(SolveOptions{Target: root, IgnoreInstalled: true})
	require.NoError(t, err)
	return result
}

func TestSolveSimpleDependencies(t *testing.T) {
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("foo", "1.0"),
		mkRecipe("bar", "1.0"),
	}}
	root := RecipeObject{Recipe: mkRecipe("foo-bar", "1.0", "foo", "bar")}

	result := solveFromRoot(t, root, src)
	got := names(result)

	require.Len(t, got, 3)
	assert.Equal(t, "foo-bar", got[2])
	assert.ElementsMatch(t, []string{"foo", "bar"}, got[:2])
}

func TestSolvePreferredVersions(t *testing.T) {
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("one", "1.0", "two>1,<2", "three==2.0"),
		mkRecipe("two", "1.5", "four<2.0", "five"),
		mkRecipe("two", "1.6", "four<2.0", "five"),
		mkRecipe("two", "2.0", "four<2.0", "five"),
		mkRecipe("three", "1.0"),
		mkRecipe("three", "2.0"),
		mkRecipe("four", "1.0"),
		mkRecipe("four", "1.3"),
		mkRecipe("four", "1.8"),
		mkRecipe("four", "2.0"),
		mkRecipe("five", "1.0"),
	}}
	root := RecipeObject{Recipe: mkRecipe("one", "1.0", "two>1,<2", "three==2.0")}

	result := solveFromRoot(t, root, src)
	got := labels(result)

	assert.ElementsMatch(t,
		[]string{"four 1.8", "five 1.0", "three 2.0", "two 1.6", "one 1.0"}, got)

	// Dependencies come before dependents.
	assert.Less(t, indexOf(t, got, "four 1.8"), indexOf(t, got, "two 1.6"))
	assert.Less(t, indexOf(t, got, "five 1.0"), indexOf(t, got, "two 1.6"))
	assert.Less(t, indexOf(t, got, "two 1.6"), indexOf(t, got, "one 1.0"))
	assert.Less(t, indexOf(t, got, "three 2.0"), indexOf(t, got, "one 1.0"))
}

func TestSolveCycle(t *testing.T) {
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("loop-b", "1.0", "loop-c"),
		mkRecipe("loop-c", "1.0", "loop-b"),
	}}
	root := RecipeObject{Recipe: mkRecipe("loop-a", "1.0", "loop-b", "loop-c")}

	s, err := FromObject(root, nil, []Source{src}, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)

	_, err = s.Solve(SolveOptions{Target: root, IgnoreInstalled: true})
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.Cycle))
}

func TestSolveCycleOutsideClosureSucceeds(t *testing.T) {
	s := New(platform.Current(), ipkglog.NewNoop())

	standalone := RecipeObject{Recipe: mkRecipe("standalone", "1.0")}
	_, err := s.Add(standalone, false)
	require.NoError(t, err)

	// Build a b<->c cycle unreachable from standalone.
	_, err = s.Add(RecipeObject{Recipe: mkRecipe("loop-a", "1.0", "loop-b", "loop-c")}, false)
	require.NoError(t, err)
	_, err = s.Add(RecipeObject{Recipe: mkRecipe("loop-b", "1.0", "loop-c")}, false)
	require.NoError(t, err)
	_, err = s.Add(RecipeObject{Recipe: mkRecipe("loop-c", "1.0", "loop-b")}, false)
	require.NoError(t, err)

	result, err := s.Solve(SolveOptions{Target: standalone})
	require.NoError(t, err)
	assert.Equal(t, []string{"standalone"}, names(result))

	// The same graph solved from inside the cycle fails.
	_, err = s.Solve(SolveOptions{Target: RecipeObject{Recipe: mkRecipe("loop-a", "1.0", "loop-b", "loop-c")}})
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.Cycle))
}

func TestSolveSoundness(t *testing.T) {
	// Nothing outside the target's transitive closure may appear.
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("wanted", "1.0"),
		mkRecipe("unrelated", "1.0"),
	}}
	root := RecipeObject{Recipe: mkRecipe("top", "1.0", "wanted")}

	result := solveFromRoot(t, root, src)
	assert.ElementsMatch(t, []string{"wanted", "top"}, names(result))
}

func TestAddDuplicateObject(t *testing.T) {
	s := New(platform.Current(), ipkglog.NewNoop())
	obj := RecipeObject{Recipe: mkRecipe("foo", "1.0")}
	_, err := s.Add(obj, false)
	require.NoError(t, err)
	_, err = s.Add(obj, false)
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.InvalidInput))
}

func TestFromObjectUnsatisfied(t *testing.T) {
	root := RecipeObject{Recipe: mkRecipe("top", "1.0", "missing>=3")}
	s, err := FromObject(root, nil, []Source{recipeSource{}}, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)

	unsat := s.Unsatisfied()
	require.Len(t, unsat, 1)
	assert.Equal(t, "missing", unsat[0].Name)

	// Solve still succeeds; the unsatisfied requirement simply has no
	// dependency edge.
	result, err := s.Solve(SolveOptions{Target: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, names(result))
}

func TestFromObjectConflictingConstraints(t *testing.T) {
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("mid-a", "1.0", "shared>2"),
		mkRecipe("mid-b", "1.0", "shared<1"),
		mkRecipe("shared", "1.5"),
	}}
	root := RecipeObject{Recipe: mkRecipe("top", "1.0", "mid-a", "mid-b")}

	_, err := FromObject(root, nil, []Source{src}, platform.Current(), ipkglog.NewNoop())
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.ConflictingConstraint))
}

func TestInstalledPackagesResolveWithoutRecursion(t *testing.T) {
	installed := []pkgartifact.Meta{{
		Name:     "dep",
		Version:  "1.0",
		Revision: 1,
		Platform: platform.Current().String(),
		// An installed package's dependencies are considered resolved
		// by the environment, so this unsatisfiable entry must never
		// be enqueued.
		Dependencies: []string{"ghost==9.9"},
	}}
	root := RecipeObject{Recipe: mkRecipe("top", "1.0", "dep")}

	s, err := FromObject(root, installed, nil, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)
	assert.Empty(t, s.Unsatisfied())

	// With IgnoreInstalled the installed dep is omitted but ordering
	// still holds.
	result, err := s.Solve(SolveOptions{Target: root, IgnoreInstalled: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, names(result))

	all, err := s.Solve(SolveOptions{Target: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"dep", "top"}, names(all))
}

func TestFindBestDependencies(t *testing.T) {
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("lib", "1.0"),
		mkRecipe("lib", "2.0"),
	}}
	root := RecipeObject{Recipe: mkRecipe("app", "1.0", "lib")}

	s, err := FromObject(root, nil, []Source{src}, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)

	best, err := s.FindBestDependencies(root, nil)
	require.NoError(t, err)
	require.Contains(t, best, "lib")
	assert.Equal(t, "2.0", best["lib"].Version().String())
}

func TestFindBestDependenciesUnsatisfied(t *testing.T) {
	root := RecipeObject{Recipe: mkRecipe("app", "1.0", "missing")}
	s, err := FromObject(root, nil, nil, platform.Current(), ipkglog.NewNoop())
	require.NoError(t, err)

	_, err = s.FindBestDependencies(root, nil)
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.NotFound))
}

func TestHighestVersionSelector(t *testing.T) {
	objs := []Object{
		RecipeObject{Recipe: mkRecipe("x", "1.0")},
		RecipeObject{Recipe: mkRecipe("x", "1.10")},
		RecipeObject{Recipe: mkRecipe("x", "1.2")},
	}
	assert.Equal(t, "1.10", HighestVersion(objs).Version().String())
	assert.Nil(t, HighestVersion(nil))
}

func TestRequirementMergedAcrossRequesters(t *testing.T) {
	// two requesters narrow the shared requirement; discovery must
	// honor the merged constraint, not either one alone.
	src := recipeSource{recipes: []*recipe.Recipe{
		mkRecipe("mid-a", "1.0", "shared>=1"),
		mkRecipe("mid-b", "1.0", "shared<2"),
		mkRecipe("shared", "1.5"),
		mkRecipe("shared", "2.5"),
	}}
	root := RecipeObject{Recipe: mkRecipe("top", "1.0", "mid-a", "mid-b")}

	result := solveFromRoot(t, root, src)
	got := labels(result)
	assert.Contains(t, got, "shared 1.5")
	assert.NotContains(t, got, "shared 2.5")
}
