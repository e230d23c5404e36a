package pipeline

import "github.com/rzbill/trustchain/pkg/id"

// Relevance is one compactor's vote on an event.
type Relevance uint8

const (
	// Abstain leaves the decision to others; an event nobody votes on is
	// kept.
	Abstain Relevance = iota
	Keep
	Drop
	ForceKeep
	ForceDrop
)

func (r Relevance) String() string {
	switch r {
	case Keep:
		return "keep"
	case Drop:
		return "drop"
	case ForceKeep:
		return "force-keep"
	case ForceDrop:
		return "force-drop"
	default:
		return "abstain"
	}
}

// Decide combines votes: ForceKeep beats ForceDrop beats Keep beats Drop.
func Decide(votes ...Relevance) bool {
	var keep, drop, fdrop bool
	for _, v := range votes {
		switch v {
		case ForceKeep:
			return true
		case ForceDrop:
			fdrop = true
		case Keep:
			keep = true
		case Drop:
			drop = true
		}
	}
	switch {
	case fdrop:
		return false
	case keep:
		return true
	case drop:
		return false
	default:
		return true
	}
}

// SupersededCompactor drops every event of a key older than its newest.
type SupersededCompactor struct{ seen map[id.PrimaryKey]struct{} }

func NewSupersededCompactor() *SupersededCompactor {
	return &SupersededCompactor{seen: make(map[id.PrimaryKey]struct{})}
}

func (c *SupersededCompactor) Relevance(ev *Event) Relevance {
	key, ok := ev.Key()
	if !ok {
		return Abstain
	}
	if _, dup := c.seen[key]; dup {
		return Drop
	}
	c.seen[key] = struct{}{}
	return Abstain
}

// TombstoneCompactor drops every event of a key whose newest event is a
// tombstone, the tombstone included.
type TombstoneCompactor struct{ dead map[id.PrimaryKey]bool }

func NewTombstoneCompactor() *TombstoneCompactor {
	return &TombstoneCompactor{dead: make(map[id.PrimaryKey]bool)}
}

func (c *TombstoneCompactor) Relevance(ev *Event) Relevance {
	key, ok := ev.Key()
	if !ok {
		return Abstain
	}
	dead, seen := c.dead[key]
	if !seen {
		dead = ev.Meta.IsTombstone()
		c.dead[key] = dead
	}
	if dead {
		return Drop
	}
	return Abstain
}

// LiveCompactor protects the newest event of every live key.
type LiveCompactor struct{ seen map[id.PrimaryKey]struct{} }

func NewLiveCompactor() *LiveCompactor {
	return &LiveCompactor{seen: make(map[id.PrimaryKey]struct{})}
}

func (c *LiveCompactor) Relevance(ev *Event) Relevance {
	key, ok := ev.Key()
	if !ok {
		return Abstain
	}
	if _, dup := c.seen[key]; dup {
		return Abstain
	}
	c.seen[key] = struct{}{}
	if ev.Meta.IsTombstone() {
		return Abstain
	}
	return ForceKeep
}
