package session

// GroupSession layers group roles over a user session. The wrapped user
// session is copied, so later changes to it are not seen.
type GroupSession struct {
	*Session
	groups map[string]struct{}
}

// NewGroupSession wraps user.
func NewGroupSession(user *Session) *GroupSession {
	return &GroupSession{Session: user.Clone(), groups: make(map[string]struct{})}
}

// AddGroup adds properties under Group(name, purpose).
func (g *GroupSession) AddGroup(name string, purpose Purpose, props ...Property) {
	g.groups[name] = struct{}{}
	for i := range props {
		props[i].Role = Group(name, purpose)
	}
	g.Append(props...)
}

// Groups lists the group names added.
func (g *GroupSession) Groups() []string {
	out := make([]string, 0, len(g.groups))
	for name := range g.groups {
		out = append(out, name)
	}
	return out
}

// Purposes returns the purposes held for group name.
func (g *GroupSession) Purposes(name string) []Purpose {
	seen := map[Purpose]bool{}
	var out []Purpose
	for _, p := range g.Properties(GroupKeys) {
		if p.Role.Group == name && !seen[p.Role.Purpose] {
			seen[p.Role.Purpose] = true
			out = append(out, p.Role.Purpose)
		}
	}
	return out
}
