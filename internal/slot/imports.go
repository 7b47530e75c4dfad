package slot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ocx/pyexec/internal/types"
)

// rewriteImports rewrites each top-level `import x[.y][ as z]` or
// `from x[.y] import a[ as b], ...` statement into plain assignments
// calling the __import_module__ builtin, since go.starlark.net's grammar
// has no import statement of its own. The Source Shaper runs before this
// step and explicitly leaves import lines untouched (spec §4.7 rule 3),
// so this always sees the guest's original import syntax verbatim.
func rewriteImports(source string) (string, *types.Error) {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		indent, trimmed := splitIndent(line)
		switch {
		case strings.HasPrefix(trimmed, "import "):
			rewritten, err := rewriteImportStmt(indent, trimmed)
			if err != nil {
				return "", err
			}
			lines[i] = rewritten
		case strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import "):
			rewritten, err := rewriteFromImportStmt(indent, trimmed)
			if err != nil {
				return "", err
			}
			lines[i] = rewritten
		}
	}
	return strings.Join(lines, "\n"), nil
}

func splitIndent(line string) (indent, rest string) {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return line[:i], line[i:]
}

var importRe = regexp.MustCompile(`^import\s+([A-Za-z_][A-Za-z0-9_.]*)\s*(?:as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*$`)

func rewriteImportStmt(indent, stmt string) (string, *types.Error) {
	m := importRe.FindStringSubmatch(stmt)
	if m == nil {
		return "", types.NewParseFailure(fmt.Sprintf("unsupported import statement: %q", stmt), 0, 0)
	}
	module, alias := m[1], m[2]
	imported := module
	binding := alias
	if binding == "" {
		// `import os.path` with no alias binds the top-level name "os", matching
		// the host language's own import binding rule. The guest then reaches
		// the submodule through attribute access (os.path.join), so the name
		// must resolve to the top-level package, not the submodule itself —
		// __import_module__ is called with "os", not "os.path".
		if top, _, found := strings.Cut(module, "."); found {
			binding = top
			imported = top
		} else {
			binding = module
		}
	}
	return fmt.Sprintf("%s%s = __import_module__(%q)", indent, binding, imported), nil
}

var fromImportRe = regexp.MustCompile(`^from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\s+(.+)$`)

func rewriteFromImportStmt(indent, stmt string) (string, *types.Error) {
	m := fromImportRe.FindStringSubmatch(stmt)
	if m == nil {
		return "", types.NewParseFailure(fmt.Sprintf("unsupported import statement: %q", stmt), 0, 0)
	}
	module, names := m[1], strings.TrimSpace(m[2])

	if names == "*" {
		return "", types.NewParseFailure("wildcard imports are not supported", 0, 0)
	}

	parts := strings.Split(names, ",")
	bindings := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, alias, hasAlias := strings.Cut(part, " as ")
		name = strings.TrimSpace(name)
		binding := name
		if hasAlias {
			binding = strings.TrimSpace(alias)
		}
		bindings = append(bindings, fmt.Sprintf("%s%s = __import_module__(%q).%s", indent, binding, module, name))
	}
	if len(bindings) == 0 {
		return "", types.NewParseFailure(fmt.Sprintf("unsupported import statement: %q", stmt), 0, 0)
	}
	// Multiple bound names collapse onto one source line joined by ";",
	// which go.starlark.net's grammar accepts as a simple-statement list
	// and which keeps line numbers stable for every other statement in
	// the file (a hard requirement for error-position reporting).
	return strings.Join(bindings, "; "), nil
}
