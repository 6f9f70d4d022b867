// Package resolver maps module paths to the transform pipeline that compiles them.
//
// Rules are tested in declaration order and the first match wins. There is no
// fallthrough: a stylesheet dialect matched by an earlier rule is never run through a
// later script rule, even if both patterns would accept the path.
package resolver

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Step is one stage of a rule's pipeline: a named transform and its option bag.
type Step struct {
	Name    string         `yaml:"name" json:"name"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Rule associates a path pattern with an ordered list of steps.
type Rule struct {
	Name    string
	Test    *regexp.Regexp
	Exclude *regexp.Regexp
	Steps   []Step
}

// Matches reports whether the rule applies to the given slash separated path.
func (r *Rule) Matches(path string) bool {
	if r.Test == nil || !r.Test.MatchString(path) {
		return false
	}
	if r.Exclude != nil && r.Exclude.MatchString(path) {
		return false
	}
	return true
}

// Resolution is the outcome of resolving a single path.
type Resolution struct {
	Path  string `json:"path"`
	Rule  string `json:"rule"`
	Steps []Step `json:"steps"`
}

// Resolver performs first-match-wins rule lookups. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	rules []Rule
}

// New creates a resolver over the given rules, which are kept in order.
func New(rules []Rule) (*Resolver, error) {
	for i, rule := range rules {
		if rule.Test == nil {
			return nil, fmt.Errorf("%w: rule %d (%s) has no test pattern", ErrInvalidRule, i, rule.Name)
		}
		if len(rule.Steps) == 0 {
			return nil, fmt.Errorf("%w: rule %d (%s) has no steps", ErrInvalidRule, i, rule.Name)
		}
	}

	return &Resolver{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns the configured rules in priority order.
func (r *Resolver) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Match returns the first rule matching path.
func (r *Resolver) Match(path string) (*Rule, error) {
	normalized := normalize(path)
	for i := range r.rules {
		if r.rules[i].Matches(normalized) {
			return &r.rules[i], nil
		}
	}
	return nil, &UnresolvedError{Path: path}
}

// Resolve returns a copy of the steps of the first rule matching path.
func (r *Resolver) Resolve(path string) ([]Step, error) {
	rule, err := r.Match(path)
	if err != nil {
		return nil, err
	}
	return copySteps(rule.Steps), nil
}

// ResolveAll resolves every path concurrently, running at most limit lookups at
// once (limit <= 0 means no limit). The first failure cancels the batch.
func (r *Resolver) ResolveAll(ctx context.Context, paths []string, limit int) (map[string]Resolution, error) {
	var mu sync.Mutex
	results := make(map[string]Resolution, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rule, err := r.Match(path)
			if err != nil {
				return err
			}

			res := Resolution{Path: path, Rule: rule.Name, Steps: copySteps(rule.Steps)}

			mu.Lock()
			results[path] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Int("paths", len(paths)).Msg("resolved asset pipelines")

	return results, nil
}

func normalize(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")
}

func copySteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{Name: s.Name}
		if s.Options != nil {
			out[i].Options = copyOptions(s.Options)
		}
	}
	return out
}

func copyOptions(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyOptions(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		return maps.Clone(val)
	default:
		return v
	}
}
