package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

// Kind tells the resolver how a rule produces its thumbnail
type Kind int

const (
	// Direct rules compute the thumbnail URL from the source URI alone
	Direct Kind = iota
	// Deferred rules need a network round-trip to locate the image
	Deferred
)

// String implements fmt.Stringer for logging
func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Deferred:
		return "deferred"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Asset is a remote image found by a deferred rule
type Asset struct {
	URL     string // Absolute image URL
	Referer string // Page the image was found on; sent with the download
}

// Rule describes one site's URL shape and how to derive a thumbnail from it.
// Direct rules set Transform, deferred rules set Locate.
type Rule struct {
	Name      string
	Kind      Kind
	Match     func(u uri.URI) bool
	Transform func(u uri.URI) string
	Locate    func(ctx context.Context, u uri.URI) (Asset, bool)
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", utils.ErrInvalidRule)
	}
	if r.Match == nil {
		return fmt.Errorf("%w: rule %q has no predicate", utils.ErrInvalidRule, r.Name)
	}
	switch r.Kind {
	case Direct:
		if r.Transform == nil {
			return fmt.Errorf("%w: direct rule %q has no transform", utils.ErrInvalidRule, r.Name)
		}
	case Deferred:
		if r.Locate == nil {
			return fmt.Errorf("%w: deferred rule %q has no locate step", utils.ErrInvalidRule, r.Name)
		}
	default:
		return fmt.Errorf("%w: rule %q has unknown kind %v", utils.ErrInvalidRule, r.Name, r.Kind)
	}
	return nil
}

// Registry is an ordered rule list; the first matching rule wins.
// Registration happens at startup, Match is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates rule and appends it. Overlapping rules are not detected;
// a later rule shadowed by an earlier one is simply never matched.
func (r *Registry) Register(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for built-in rules; it panics on error
func (r *Registry) MustRegister(rule Rule) {
	if err := r.Register(rule); err != nil {
		panic(err)
	}
}

// Match returns the first rule whose predicate accepts u
func (r *Registry) Match(u uri.URI) (Rule, bool) {
	if u.IsZero() {
		return Rule{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Match(u) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Names returns rule names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}
