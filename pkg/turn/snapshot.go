package turn

// Snapshot is a deep copy of a Stack taken at one instant. Readers may
// share it freely; it never aliases the live stack.
type Snapshot struct {
	// Levels[0] is the root level; the last level is the top of the stack
	Levels         [][]Context
	CompletedTurns []string
}

func (s Snapshot) Empty() bool { return len(s.Levels) == 0 }

// Active returns the front turn of the top level
func (s Snapshot) Active() (Context, bool) {
	if s.Empty() {
		return Context{}, false
	}
	return s.Levels[len(s.Levels)-1][0], true
}

// AncestorChain returns the front turn of every level, root first and the
// active turn last. Queued siblings are never part of the chain.
func (s Snapshot) AncestorChain() []Context {
	chain := make([]Context, 0, len(s.Levels))
	for _, q := range s.Levels {
		chain = append(chain, q[0])
	}
	return chain
}

// Objective is the active turn's step objective
func (s Snapshot) Objective() string {
	a, _ := s.Active()
	return a.StepObjective
}

// RecentHistory returns at most n of the latest completed root turns
func (s Snapshot) RecentHistory(n int) []string {
	if n <= 0 || len(s.CompletedTurns) == 0 {
		return nil
	}
	if n > len(s.CompletedTurns) {
		n = len(s.CompletedTurns)
	}
	return s.CompletedTurns[len(s.CompletedTurns)-n:]
}

// MergedCache merges the caches along the ancestor chain, deeper turns
// overriding shallower ones. With types given, only entries of those
// types are kept.
func (s Snapshot) MergedCache(types ...string) map[string]CacheEntry {
	keep := map[string]bool{}
	for _, t := range types {
		keep[t] = true
	}
	merged := map[string]CacheEntry{}
	for _, t := range s.AncestorChain() {
		for k, e := range t.Cache {
			if len(keep) > 0 && !keep[e.Type] {
				continue
			}
			merged[k] = e
		}
	}
	return merged
}
