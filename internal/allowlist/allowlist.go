// Package allowlist implements the stateless module-name predicate that
// gates guest-code imports.
package allowlist

import "strings"

// Set is an immutable membership set of permitted module names, shared
// by reference across the Slot that executes a single call.
type Set map[string]struct{}

// NewSet builds a Set from a settings.allowed_modules list.
func NewSet(names []string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Allowed reports whether name may be imported from user source given
// set, honoring the one-level sub-package and implicit-parent grants.
func Allowed(name string, set Set) bool {
	if _, ok := set[name]; ok {
		return true
	}

	// Implicit parent grant: "os.path" in the set grants the bare "os",
	// because the guest's import machinery loads the parent package as
	// a side effect.
	if name == "os" {
		if _, ok := set["os.path"]; ok {
			return true
		}
	}

	// One-level sub-package grant: a permitted top-level package grants
	// its dotted submodules, e.g. "json" grants "json.decoder".
	if top, _, found := strings.Cut(name, "."); found {
		if _, ok := set[top]; ok {
			return true
		}
	}

	return false
}

// AllowedFromOrigin applies Allowed only for imports originating from
// user source; imports triggered from inside an already-loaded library
// module bypass the gate entirely (spec §4.2 origin gating).
func AllowedFromOrigin(name string, set Set, isUserSource bool) bool {
	if !isUserSource {
		return true
	}
	return Allowed(name, set)
}
