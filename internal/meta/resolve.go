package meta

import (
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/pkg/id"
)

// ErrUnresolvedInherit means a walk reached the chain root without finding a
// concrete option. It is a configuration error and never grants access.
var ErrUnresolvedInherit = errs.New(errs.Authorization, "meta: option still inherit at chain root")

// TreeReader exposes already-indexed metadata to resolution. It never does
// log I/O.
type TreeReader interface {
	LatestMetadata(key id.PrimaryKey) (*Metadata, bool)
}

// Roots are the chain-level options every walk ends at.
type Roots struct {
	Write WriteOption `json:"write"`
	Read  ReadOption  `json:"read"`
}

// maxDepth bounds ancestor walks; deeper trees (or cycles from malicious
// metadata) resolve to the root options.
const maxDepth = 256

// ResolveWrite walks from own through the ancestors reachable from link and
// finally the root, stopping at the first non-Inherit option.
func ResolveWrite(tr TreeReader, own WriteOption, link *Tree, roots Roots) (WriteOption, error) {
	opt := own
	if opt.IsInherit() {
		walk(tr, link, func(m *Metadata) bool {
			if a := m.Authorization(); a != nil {
				opt = opt.Or(a.Write)
			}
			return opt.IsInherit()
		})
	}
	opt = opt.Or(roots.Write)
	if opt.IsInherit() {
		return opt, ErrUnresolvedInherit
	}
	return opt, nil
}

// ResolveRead is ResolveWrite for read options.
func ResolveRead(tr TreeReader, own ReadOption, link *Tree, roots Roots) (ReadOption, error) {
	opt := own
	if opt.IsInherit() {
		walk(tr, link, func(m *Metadata) bool {
			if a := m.Authorization(); a != nil {
				opt = opt.Or(a.Read)
			}
			return opt.IsInherit()
		})
	}
	opt = opt.Or(roots.Read)
	if opt.IsInherit() {
		return opt, ErrUnresolvedInherit
	}
	return opt, nil
}

// walk visits the metadata of each ancestor starting at link.Parent while
// visit returns true.
func walk(tr TreeReader, link *Tree, visit func(*Metadata) bool) {
	seen := make(map[id.PrimaryKey]struct{})
	for depth := 0; link != nil && depth < maxDepth; depth++ {
		if _, loop := seen[link.Parent]; loop {
			return
		}
		seen[link.Parent] = struct{}{}
		m, ok := tr.LatestMetadata(link.Parent)
		if !ok {
			return
		}
		if !visit(m) {
			return
		}
		link = m.TreeLink()
	}
}
