package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong configuration loader for YAML files.
//
// A flag is looked up by its name with dashes or underscores, then through
// nested maps split on the dashes, so both of these set --session-ttl:
//
//	session_ttl: 24h
//
//	session:
//	  ttl: 24h
func YAML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		raw, ok := lookup(values, strings.Split(flag.Name, "-"))
		if !ok || raw == nil {
			return nil, nil
		}
		return normalize(raw), nil
	}

	return f, nil
}

// lookup finds the value for a dash-split flag name, preferring the longest
// joined key at each level.
func lookup(values map[string]any, parts []string) (any, bool) {
	for i := len(parts); i > 0; i-- {
		for _, sep := range []string{"-", "_"} {
			raw, ok := values[strings.Join(parts[:i], sep)]
			if !ok {
				continue
			}
			if i == len(parts) {
				return raw, true
			}
			if nested, isMap := raw.(map[string]any); isMap {
				if v, found := lookup(nested, parts[i:]); found {
					return v, true
				}
			}
		}
	}
	return nil, false
}

// normalize turns YAML scalars into strings so kong's mappers parse them the
// same way they parse command line values.
func normalize(raw any) any {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}
