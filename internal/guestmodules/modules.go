// Package guestmodules builds the stub module objects exposed to guest
// source through the import gate. Per spec.md's Non-goal ("full
// source-language compatibility beyond the scripted-import allowlist"),
// these provide enough surface to demonstrate real use, not full
// standard-library parity with the host language the dialect mimics.
package guestmodules

import (
	"fmt"
	"math/rand"
	"path"
	"regexp"

	"go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Build returns the Starlark value bound to a top-level import of name.
// It does not handle "sys", which requires a per-call Output Sink and is
// built directly by the slot package.
func Build(name string) (starlark.Value, error) {
	switch name {
	case "math":
		return starlarkmath.Module, nil
	case "json":
		return json.Module, nil
	case "datetime":
		return startime.Module, nil
	case "string":
		return stringModule(), nil
	case "random":
		return randomModule(), nil
	case "re":
		return reModule(), nil
	case "collections":
		return collectionsModule(), nil
	case "itertools":
		return itertoolsModule(), nil
	case "functools":
		return functoolsModule(), nil
	case "os.path":
		return osPathModule(), nil
	case "os":
		return osModule(), nil
	default:
		return nil, fmt.Errorf("guestmodules: no stub implementation for %q", name)
	}
}

func stringModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "string",
		Members: starlark.StringDict{
			"ascii_lowercase": starlark.String("abcdefghijklmnopqrstuvwxyz"),
			"ascii_uppercase": starlark.String("ABCDEFGHIJKLMNOPQRSTUVWXYZ"),
			"digits":          starlark.String("0123456789"),
			"whitespace":      starlark.String(" \t\n\r\x0b\x0c"),
		},
	}
}

func randomModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "random",
		Members: starlark.StringDict{
			"random": starlark.NewBuiltin("random.random", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
					return nil, err
				}
				return starlark.Float(rand.Float64()), nil
			}),
			"randint": starlark.NewBuiltin("random.randint", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var lo, hi int
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &lo, "b", &hi); err != nil {
					return nil, err
				}
				if hi < lo {
					return nil, fmt.Errorf("randint: b must be >= a")
				}
				return starlark.MakeInt(lo + rand.Intn(hi-lo+1)), nil
			}),
		},
	}
}

func reModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"match": starlark.NewBuiltin("re.match", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var pattern, s string
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
					return nil, err
				}
				re, err := regexp.Compile("^(?:" + pattern + ")")
				if err != nil {
					return nil, fmt.Errorf("re.match: %w", err)
				}
				if re.MatchString(s) {
					return starlark.Bool(true), nil
				}
				return starlark.None, nil
			}),
			"search": starlark.NewBuiltin("re.search", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var pattern, s string
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
					return nil, err
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("re.search: %w", err)
				}
				if re.MatchString(s) {
					return starlark.Bool(true), nil
				}
				return starlark.None, nil
			}),
		},
	}
}

func collectionsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "collections",
		Members: starlark.StringDict{
			"OrderedDict": starlark.NewBuiltin("collections.OrderedDict", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				d := starlark.NewDict(len(kwargs))
				for _, kv := range kwargs {
					if err := d.SetKey(kv[0], kv[1]); err != nil {
						return nil, err
					}
				}
				return d, nil
			}),
		},
	}
}

func itertoolsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "itertools",
		Members: starlark.StringDict{
			"chain": starlark.NewBuiltin("itertools.chain", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var out []starlark.Value
				for _, a := range args {
					iter := a.(starlark.Iterable).Iterate()
					defer iter.Done()
					var v starlark.Value
					for iter.Next(&v) {
						out = append(out, v)
					}
				}
				return starlark.NewList(out), nil
			}),
		},
	}
}

func functoolsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "functools",
		Members: starlark.StringDict{
			"reduce": starlark.NewBuiltin("functools.reduce", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var fn starlark.Callable
				var iterable starlark.Iterable
				var initial starlark.Value = nil
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "function", &fn, "iterable", &iterable, "initial?", &initial); err != nil {
					return nil, err
				}
				iter := iterable.Iterate()
				defer iter.Done()

				acc := initial
				var v starlark.Value
				for iter.Next(&v) {
					if acc == nil {
						acc = v
						continue
					}
					result, err := starlark.Call(thread, fn, starlark.Tuple{acc, v}, nil)
					if err != nil {
						return nil, err
					}
					acc = result
				}
				if acc == nil {
					return nil, fmt.Errorf("functools.reduce: empty iterable with no initial value")
				}
				return acc, nil
			}),
		},
	}
}

func osPathMembers() starlark.StringDict {
	return starlark.StringDict{
		"join": starlark.NewBuiltin("os.path.join", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			parts := make([]string, 0, len(args))
			for _, a := range args {
				s, ok := starlark.AsString(a)
				if !ok {
					return nil, fmt.Errorf("os.path.join: expected string arguments")
				}
				parts = append(parts, s)
			}
			if len(parts) == 0 {
				return starlark.String(""), nil
			}
			joined := parts[0]
			for _, p := range parts[1:] {
				joined = path.Join(joined, p)
			}
			return starlark.String(joined), nil
		}),
		"basename": starlark.NewBuiltin("os.path.basename", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
				return nil, err
			}
			return starlark.String(path.Base(p)), nil
		}),
		"dirname": starlark.NewBuiltin("os.path.dirname", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
				return nil, err
			}
			return starlark.String(path.Dir(p)), nil
		}),
		"exists": starlark.NewBuiltin("os.path.exists", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			// The guest has no filesystem access; every path is reported absent.
			return starlark.Bool(false), nil
		}),
	}
}

func osPathModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{Name: "os.path", Members: osPathMembers()}
}

func osModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "os",
		Members: starlark.StringDict{
			"path": &starlarkstruct.Module{Name: "path", Members: osPathMembers()},
		},
	}
}
