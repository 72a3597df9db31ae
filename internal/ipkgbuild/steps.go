package ipkgbuild

import (
	"context"
	"os"

	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/recipe"
)

// StepContext is what a custom install step sees: the environment,
// the extracted source root, and the directory map for templating.
type StepContext struct {
	Env       *environment.Environment
	SourceDir string
	Dirs      map[string]string
	Recipe    *recipe.Recipe
}

// StepFunc executes one named install step.
type StepFunc func(ctx context.Context, sc *StepContext, params map[string]interface{}) error

// stepRegistry maps action names to implementations. Recipes select
// steps by name; there is no dynamic dispatch beyond this table.
var stepRegistry = map[string]StepFunc{
	"run":            stepRun,
	"configure_make": stepConfigureMake,
	"make":           stepMake,
}

// runInstallStep runs the recipe's install pipeline: the default
// configure/make/make-install sequence, or the recipe's custom step
// list when one is declared.
func (b *Builder) runInstallStep(ctx context.Context, r *recipe.Recipe, env *environment.Environment, sourceDir string) error {
	sc := &StepContext{Env: env, SourceDir: sourceDir, Dirs: env.Directories(), Recipe: r}

	if !r.Custom() {
		return stepConfigureMake(ctx, sc, map[string]interface{}{})
	}

	current := b.Platform.String()
	for i, step := range r.Install.Steps {
		if !step.When.Matches(current) {
			b.Log.Debug("skipping install step", "recipe", r.Name, "step", step.Action, "platform", current)
			continue
		}
		fn, ok := stepRegistry[step.Action]
		if !ok {
			return ipkgerr.New(ipkgerr.InvalidInput, "recipe %s: unknown install step %q", r.Name, step.Action)
		}
		if err := fn(ctx, sc, step.Params); err != nil {
			return ipkgerr.Wrap(ipkgerr.ExecutionFailed, err, "recipe %s install step %d (%s)", r.Name, i, step.Action)
		}
	}
	return nil
}

// stepConfigureMake is the default pipeline: ./configure with the
// recipe's templated arguments, make, make install. A missing
// configure script degrades to make + make install.
func stepConfigureMake(ctx context.Context, sc *StepContext, params map[string]interface{}) error {
	args := sc.Recipe.ConfigureArgs
	if raw, ok := params["configure_args"].([]interface{}); ok {
		args = nil
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	configure := append([]string{"./configure"}, expandArgs(args, sc.Dirs)...)
	if _, err := os.Stat(sc.SourceDir + "/configure"); err == nil {
		if err := execStep(ctx, sc, configure); err != nil {
			return err
		}
	}
	if err := execStep(ctx, sc, []string{"make"}); err != nil {
		return err
	}
	return execStep(ctx, sc, []string{"make", "install"})
}

// stepMake runs make with an optional target parameter.
func stepMake(ctx context.Context, sc *StepContext, params map[string]interface{}) error {
	argv := []string{"make"}
	if target, ok := params["target"].(string); ok && target != "" {
		argv = append(argv, target)
	}
	return execStep(ctx, sc, argv)
}

// stepRun executes an explicit argv list from the recipe, each
// element templated against the directory map.
func stepRun(ctx context.Context, sc *StepContext, params map[string]interface{}) error {
	raw, ok := params["argv"].([]interface{})
	if !ok || len(raw) == 0 {
		return ipkgerr.New(ipkgerr.InvalidInput, "run step requires a non-empty 'argv' list")
	}
	argv := make([]string, 0, len(raw))
	for _, a := range raw {
		s, ok := a.(string)
		if !ok {
			return ipkgerr.New(ipkgerr.InvalidInput, "run step argv elements must be strings")
		}
		argv = append(argv, environment.ExpandDirs(s, sc.Dirs))
	}

	dir := sc.SourceDir
	if wd, ok := params["working_dir"].(string); ok && wd != "" {
		dir = environment.ExpandDirs(wd, sc.Dirs)
	}
	return execStep(ctx, sc, argv, withDir(dir))
}

type execOpt func(*environment.ExecOptions)

func withDir(dir string) execOpt {
	return func(o *environment.ExecOptions) { o.Dir = dir }
}

func execStep(ctx context.Context, sc *StepContext, argv []string, opts ...execOpt) error {
	eo := environment.ExecOptions{Dir: sc.SourceDir, Stdout: os.Stdout, Stderr: os.Stderr}
	for _, opt := range opts {
		opt(&eo)
	}
	_, err := sc.Env.Execute(ctx, argv, eo)
	return err
}

func expandArgs(args []string, dirs map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = environment.ExpandDirs(a, dirs)
	}
	return out
}
