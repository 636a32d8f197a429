package pump

import (
	"errors"
	"fmt"
)

var ErrUnknownUpstream = errors.New("unknown upstream pump")

// Index maps pump names to pumps.
func Index(pumps []*Pump) map[string]*Pump {
	idx := make(map[string]*Pump, len(pumps))
	for _, p := range pumps {
		idx[p.Name()] = p
	}
	return idx
}

// Link resolves the upstream references in refs (downstream name to
// upstream name) and chains the pumps. Any unknown name, self reference or
// cycle is reported as an error.
func Link(pumps []*Pump, refs map[string]string) error {
	idx := Index(pumps)
	// iterate in declaration order so errors are deterministic
	for _, p := range pumps {
		target, ok := refs[p.Name()]
		if !ok || target == "" {
			continue
		}
		up, ok := idx[target]
		if !ok {
			return fmt.Errorf("%w: %s is chained to %q", ErrUnknownUpstream, p.Name(), target)
		}
		if err := p.Chain(up); err != nil {
			return err
		}
	}
	return nil
}

// Order returns the pumps in declaration order, moved where needed so that
// every pump comes after its upstream. Reverse order therefore visits the
// most downstream pumps first.
func Order(pumps []*Pump) []*Pump {
	placed := make(map[*Pump]bool, len(pumps))
	inList := make(map[*Pump]bool, len(pumps))
	for _, p := range pumps {
		inList[p] = true
	}
	out := make([]*Pump, 0, len(pumps))
	for len(out) < len(pumps) {
		progress := false
		for _, p := range pumps {
			if placed[p] {
				continue
			}
			up := p.Upstream()
			if up == nil || placed[up] || !inList[up] {
				out = append(out, p)
				placed[p] = true
				progress = true
			}
		}
		if !progress {
			// unreachable with chains built through Chain
			for _, p := range pumps {
				if !placed[p] {
					out = append(out, p)
					placed[p] = true
				}
			}
		}
	}
	return out
}
