package ipkgerr

import (
	"strings"
)

// Context provides optional extra information used to tailor
// suggestions, e.g. the recipe/package name currently being operated
// on.
type Context struct {
	Name string
}

// Format renders err as a single line when debug is false (the
// outermost error's message only), or as the full cause chain plus
// possible-cause/suggestion guidance when debug is true. Modeled on
// the teacher's internal/errmsg package.
func Format(err error, debug bool, ctx *Context) string {
	if err == nil {
		return ""
	}
	if !debug {
		if e, ok := err.(*Error); ok {
			return (&Error{Message: e.Message, Operands: e.Operands}).Error()
		}
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	kind, ok := KindOf(err)
	if !ok {
		return sb.String()
	}

	causes, suggestions := guidance(kind, ctx)
	if len(causes) > 0 {
		sb.WriteString("\nPossible causes:\n")
		for _, c := range causes {
			sb.WriteString("  - " + c + "\n")
		}
	}
	if len(suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, s := range suggestions {
			sb.WriteString("  - " + s + "\n")
		}
	}
	return sb.String()
}

func guidance(kind Kind, ctx *Context) (causes, suggestions []string) {
	name := "<name>"
	if ctx != nil && ctx.Name != "" {
		name = ctx.Name
	}

	switch kind {
	case NotFound:
		causes = []string{
			"the recipe or artifact does not exist in any configured repository",
			"a typo in the package or recipe name",
		}
		suggestions = []string{
			"check the spelling of " + name,
			"run 'ipkg list' to see what is installed",
		}
	case ChecksumMismatch:
		causes = []string{
			"the download was corrupted or truncated in transit",
			"the recipe's declared checksum is stale for the current upstream release",
		}
		suggestions = []string{
			"retry the operation; transient network corruption is the common case",
			"re-check the recipe's checksum against the upstream release",
		}
	case ConflictingConstraint:
		causes = []string{
			"two requesters require incompatible version ranges for " + name,
		}
		suggestions = []string{
			"inspect the dependency graph with 'ipkg build --dry-run' style tooling",
		}
	case Cycle:
		causes = []string{
			"a recipe or package depends (directly or transitively) on itself",
		}
		suggestions = []string{
			"break the cycle by removing one of the offending dependencies",
		}
	case ExecutionFailed:
		causes = []string{
			"a required build tool is missing from PATH",
			"the build command exited non-zero",
		}
		suggestions = []string{
			"re-run with --debug to see the full command and its output",
		}
	case ArchiveLayoutInvalid:
		causes = []string{
			"the archive has more than one top-level entry",
			"the archive's compression format is not recognized",
		}
	case MetaCorrupt:
		causes = []string{
			"the environment's .ipkg.meta file was edited or truncated externally",
		}
		suggestions = []string{
			"restore .ipkg.meta from a backup, or recreate the environment",
		}
	}
	return causes, suggestions
}
