package profile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

var ErrNoProfiles = errors.New("registry has no profiles")

// aliasRef ties one automaton pattern back to the profile fields using it.
type aliasRef struct {
	profile int
	field   model.Field
}

// Registry is the read-only set of mapping profiles, kept in declaration
// order. It is safe for concurrent use once built.
type Registry struct {
	profiles []*MappingProfile
	byID     map[string]*MappingProfile

	// The Aho-Corasick matcher keeps per-call scratch state, so Match
	// calls are serialized.
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	patterns []string
	refs     [][]aliasRef
}

// NewRegistry validates the profiles and builds the header alias automaton.
func NewRegistry(profiles ...MappingProfile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	r := &Registry{
		profiles: make([]*MappingProfile, 0, len(profiles)),
		byID:     make(map[string]*MappingProfile, len(profiles)),
	}

	patternToIndex := make(map[string]int)
	for i := range profiles {
		p := profiles[i]
		if err := p.compile(); err != nil {
			return nil, err
		}
		if _, exists := r.byID[p.SourceID]; exists {
			return nil, fmt.Errorf("duplicate profile source_id %q", p.SourceID)
		}
		r.profiles = append(r.profiles, &p)
		r.byID[p.SourceID] = &p

		idx := len(r.profiles) - 1
		for _, field := range model.Fields {
			for _, alias := range p.aliases[field] {
				pi, ok := patternToIndex[alias]
				if !ok {
					pi = len(r.patterns)
					patternToIndex[alias] = pi
					r.patterns = append(r.patterns, alias)
					r.refs = append(r.refs, nil)
				}
				r.refs[pi] = append(r.refs[pi], aliasRef{profile: idx, field: field})
			}
		}
	}

	if len(r.patterns) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(r.patterns)
	}
	return r, nil
}

// Lookup returns the profile registered under sourceID.
func (r *Registry) Lookup(sourceID string) (*MappingProfile, bool) {
	p, ok := r.byID[strings.TrimSpace(sourceID)]
	return p, ok
}

// Profiles returns all profiles in declaration order.
func (r *Registry) Profiles() []*MappingProfile {
	out := make([]*MappingProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// SourceIDs returns every registered source_id in declaration order.
func (r *Registry) SourceIDs() []string {
	ids := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		ids[i] = p.SourceID
	}
	return ids
}

// FieldSet is the set of logical fields a header row satisfied.
type FieldSet map[model.Field]struct{}

func (s FieldSet) Has(f model.Field) bool {
	_, ok := s[f]
	return ok
}

// Qualifies reports whether the required fields are present: date plus
// either amount or both debit and credit.
func (s FieldSet) Qualifies() bool {
	return s.Has(model.FieldDate) && (s.Has(model.FieldAmount) || (s.Has(model.FieldDebit) && s.Has(model.FieldCredit)))
}

// MatchHeaders reports, per profile in declaration order, which logical
// fields have an alias contained in at least one of the header cells.
func (r *Registry) MatchHeaders(cells []string) []FieldSet {
	sets := make([]FieldSet, len(r.profiles))
	for i := range sets {
		sets[i] = FieldSet{}
	}
	if r.matcher == nil {
		return sets
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cell := range cells {
		c := NormalizeHeader(cell)
		if c == "" {
			continue
		}
		for _, hit := range r.matcher.Match([]byte(c)) {
			for _, ref := range r.refs[hit] {
				sets[ref.profile][ref.field] = struct{}{}
			}
		}
	}
	return sets
}
