// Package session holds the capability bag a caller presents to the chain:
// read, private read, write and public read keys grouped by role.
//
// A Session is plain data. It performs no I/O, is cheap to Clone, and only
// ever grows: Append adds capabilities and nothing removes them.
package session

import (
	"github.com/rzbill/trustchain/internal/crypto"
)

// RoleKind is the coarse role a property belongs to.
type RoleKind uint8

const (
	RoleUser RoleKind = iota
	RoleSudo
	RoleGroup
)

// Purpose qualifies a group role.
type Purpose uint8

const (
	PurposeOwner Purpose = iota
	PurposeDelegate
	PurposeContributor
	PurposeObserver
)

func (p Purpose) String() string {
	switch p {
	case PurposeOwner:
		return "owner"
	case PurposeDelegate:
		return "delegate"
	case PurposeContributor:
		return "contributor"
	default:
		return "observer"
	}
}

// Role places a property in the session.
type Role struct {
	Kind    RoleKind
	Group   string
	Purpose Purpose
}

var (
	User = Role{Kind: RoleUser}
	Sudo = Role{Kind: RoleSudo}
)

// Group returns the role for a named group with a purpose.
func Group(name string, p Purpose) Role {
	return Role{Kind: RoleGroup, Group: name, Purpose: p}
}

// Category filters properties by role when iterating.
type Category uint8

const (
	AllKeys Category = iota
	UserKeys
	SudoKeys
	GroupKeys
	NonGroupKeys
)

func (c Category) matches(r Role) bool {
	switch c {
	case UserKeys:
		return r.Kind == RoleUser
	case SudoKeys:
		return r.Kind == RoleSudo
	case GroupKeys:
		return r.Kind == RoleGroup
	case NonGroupKeys:
		return r.Kind != RoleGroup
	default:
		return true
	}
}

// Property is one capability held under a role. Exactly one key field is set.
type Property struct {
	Role           Role
	ReadKey        *crypto.ReadKey
	PrivateReadKey *crypto.PrivateReadKey
	WriteKey       *crypto.WriteKey
	PublicReadKey  *crypto.PublicReadKey
}

func ReadKeyProperty(r Role, k crypto.ReadKey) Property {
	return Property{Role: r, ReadKey: &k}
}

func PrivateReadKeyProperty(r Role, k *crypto.PrivateReadKey) Property {
	return Property{Role: r, PrivateReadKey: k}
}

func WriteKeyProperty(r Role, k *crypto.WriteKey) Property {
	return Property{Role: r, WriteKey: k}
}

func PublicReadKeyProperty(r Role, k crypto.PublicReadKey) Property {
	return Property{Role: r, PublicReadKey: &k}
}

// Session is a bag of properties plus an optional identity string recorded as
// the author of events.
type Session struct {
	Identity string
	props    []Property
}

// New returns a session holding props.
func New(identity string, props ...Property) *Session {
	s := &Session{Identity: identity}
	s.Append(props...)
	return s
}

// Append adds properties. Properties already held are not duplicated.
func (s *Session) Append(props ...Property) {
	for _, p := range props {
		if !s.has(p) {
			s.props = append(s.props, p)
		}
	}
}

func (s *Session) has(p Property) bool {
	for _, q := range s.props {
		if q.Role != p.Role {
			continue
		}
		switch {
		case p.ReadKey != nil && q.ReadKey != nil && *p.ReadKey == *q.ReadKey,
			p.PrivateReadKey != nil && q.PrivateReadKey != nil && p.PrivateReadKey.Hash() == q.PrivateReadKey.Hash(),
			p.WriteKey != nil && q.WriteKey != nil && p.WriteKey.Hash() == q.WriteKey.Hash(),
			p.PublicReadKey != nil && q.PublicReadKey != nil && *p.PublicReadKey == *q.PublicReadKey:
			return true
		}
	}
	return false
}

// Clone returns an independent copy. Key material is immutable and shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return &Session{}
	}
	return &Session{Identity: s.Identity, props: append([]Property(nil), s.props...)}
}

// Properties returns the properties in category c.
func (s *Session) Properties(c Category) []Property {
	if s == nil {
		return nil
	}
	var out []Property
	for _, p := range s.props {
		if c.matches(p.Role) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) ReadKeys(c Category) []crypto.ReadKey {
	var out []crypto.ReadKey
	for _, p := range s.Properties(c) {
		if p.ReadKey != nil {
			out = append(out, *p.ReadKey)
		}
	}
	return out
}

func (s *Session) PrivateReadKeys(c Category) []*crypto.PrivateReadKey {
	var out []*crypto.PrivateReadKey
	for _, p := range s.Properties(c) {
		if p.PrivateReadKey != nil {
			out = append(out, p.PrivateReadKey)
		}
	}
	return out
}

func (s *Session) WriteKeys(c Category) []*crypto.WriteKey {
	var out []*crypto.WriteKey
	for _, p := range s.Properties(c) {
		if p.WriteKey != nil {
			out = append(out, p.WriteKey)
		}
	}
	return out
}

func (s *Session) PublicReadKeys(c Category) []crypto.PublicReadKey {
	var out []crypto.PublicReadKey
	for _, p := range s.Properties(c) {
		if p.PublicReadKey != nil {
			out = append(out, *p.PublicReadKey)
		}
	}
	return out
}

// WriteKeyHashes returns the hashes of every write key held.
func (s *Session) WriteKeyHashes() []crypto.Hash {
	keys := s.WriteKeys(AllKeys)
	out := make([]crypto.Hash, len(keys))
	for i, k := range keys {
		out[i] = k.Hash()
	}
	return out
}

// FindWriteKey returns the write key hashing to h.
func (s *Session) FindWriteKey(h crypto.Hash) (*crypto.WriteKey, bool) {
	for _, k := range s.WriteKeys(AllKeys) {
		if k.Hash() == h {
			return k, true
		}
	}
	return nil, false
}

func (s *Session) HasWriteKey(h crypto.Hash) bool {
	_, ok := s.FindWriteKey(h)
	return ok
}

// FindReadKey returns the read key hashing to h.
func (s *Session) FindReadKey(h crypto.Hash) (crypto.ReadKey, bool) {
	for _, k := range s.ReadKeys(AllKeys) {
		if k.Hash() == h {
			return k, true
		}
	}
	return crypto.ReadKey{}, false
}

// FindPrivateReadKey returns the private read key whose public half hashes
// to h.
func (s *Session) FindPrivateReadKey(h crypto.Hash) (*crypto.PrivateReadKey, bool) {
	for _, k := range s.PrivateReadKeys(AllKeys) {
		if k.Hash() == h {
			return k, true
		}
	}
	return nil, false
}

// ResolveReadKey finds the read key hashing to h, either held directly or
// recovered from d with a matching private read key.
func (s *Session) ResolveReadKey(h crypto.Hash, d *crypto.DerivedKey) (crypto.ReadKey, bool) {
	if k, ok := s.FindReadKey(h); ok {
		return k, true
	}
	if d == nil {
		return crypto.ReadKey{}, false
	}
	priv, ok := s.FindPrivateReadKey(d.Recipient)
	if !ok {
		return crypto.ReadKey{}, false
	}
	k, err := priv.Open(d)
	if err != nil || k.Hash() != h {
		return crypto.ReadKey{}, false
	}
	return k, true
}
