package knowledge

import (
	"context"
	"fmt"
	"sort"
)

// Resolver picks the most specific applicable definition for an identifier.
// It is stateless and safe for concurrent use.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over a definition store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the winning definition for kind+identifier under the given
// context, or nil when no consulted level holds a match. Levels are searched
// most to least specific and the first level with any match wins outright;
// fields are never merged across levels.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, identifier string, rc Context) (*Definition, error) {
	for _, q := range levelQueries(rc) {
		cands, err := r.store.FindCandidates(ctx, kind, identifier, q.level, q.scopeID)
		if err != nil {
			return nil, fmt.Errorf("find %s candidates: %w", q.level, err)
		}
		if best := pickBest(kind, cands, rc.ECUAddress); best != nil {
			return best, nil
		}
	}
	return nil, nil
}

// ChainEntry is one consulted level's outcome in an inheritance chain.
type ChainEntry struct {
	Level      Level       `json:"level"`
	ScopeID    string      `json:"scopeId"`
	Definition *Definition `json:"definition,omitempty"`
	IsActive   bool        `json:"isActive"`
}

// InheritanceChain reports every consulted level's best match, the active
// flag set on the first populated level. It explains why Resolve picked what
// it picked; levels whose scope id the context lacks are not consulted.
func (r *Resolver) InheritanceChain(ctx context.Context, kind Kind, identifier string, rc Context) ([]ChainEntry, error) {
	var (
		chain  []ChainEntry
		active bool
	)
	for _, q := range levelQueries(rc) {
		cands, err := r.store.FindCandidates(ctx, kind, identifier, q.level, q.scopeID)
		if err != nil {
			return nil, fmt.Errorf("find %s candidates: %w", q.level, err)
		}
		entry := ChainEntry{
			Level:      q.level,
			ScopeID:    q.scopeID,
			Definition: pickBest(kind, cands, rc.ECUAddress),
		}
		if entry.Definition != nil && !active {
			entry.IsActive = true
			active = true
		}
		chain = append(chain, entry)
	}
	return chain, nil
}

type levelQuery struct {
	level   Level
	scopeID string
}

// levelQueries builds the ordered search strategy for a context, skipping
// levels whose scope id is absent. GLOBAL is always included, last.
func levelQueries(rc Context) []levelQuery {
	qs := make([]levelQuery, 0, len(LevelOrder))
	for _, l := range LevelOrder {
		scope, ok := rc.scope(l)
		if !ok {
			continue
		}
		qs = append(qs, levelQuery{level: l, scopeID: scope})
	}
	return qs
}

// addressScoped reports whether a kind's definitions are matched against the
// context ECU address.
func addressScoped(kind Kind) bool {
	return kind == KindDID || kind == KindDTC || kind == KindRoutine
}

// pickBest selects the winner among one level's candidates. Address-scoped
// kinds keep definitions bound to the context address or bound to none, with
// address-bearing rows ahead of address-agnostic ones; within that, verified
// beats unverified, then higher confidence, then higher version.
func pickBest(kind Kind, cands []Definition, ecuAddress string) *Definition {
	scoped := addressScoped(kind)

	matches := make([]Definition, 0, len(cands))
	for _, d := range cands {
		if scoped && d.ECUAddress != "" && d.ECUAddress != ecuAddress {
			continue
		}
		matches = append(matches, d)
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return betterDefinition(matches[i], matches[j], scoped)
	})
	best := matches[0]
	return &best
}

// betterDefinition reports whether a should rank ahead of b within a level.
func betterDefinition(a, b Definition, scoped bool) bool {
	if scoped && (a.ECUAddress != "") != (b.ECUAddress != "") {
		return a.ECUAddress != ""
	}
	if a.IsVerified != b.IsVerified {
		return a.IsVerified
	}
	if a.Confidence.Rank() != b.Confidence.Rank() {
		return a.Confidence.Rank() > b.Confidence.Rank()
	}
	return a.Version > b.Version
}
