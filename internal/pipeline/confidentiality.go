package pipeline

import (
	"context"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/session"
)

// Confidentiality is the sub-plugin that enforces read authorization.
type Confidentiality struct {
	roots meta.Roots
}

// LintEvent resolves the read option from the event's own authorization and
// its ancestors, and records how the payload will be encrypted.
func (c *Confidentiality) LintEvent(_ context.Context, req *LintRequest) ([]meta.CoreMetadata, error) {
	if req.Meta.IsTombstone() {
		return nil, nil
	}
	own := meta.ReadInherit()
	if a := req.Meta.Authorization(); a != nil {
		own = a.Read
	}
	r, err := meta.ResolveRead(req.Tree, own, req.Meta.TreeLink(), c.roots)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Kind == meta.ReadKindEveryone && r.Key == nil:
		return nil, nil
	case r.Kind == meta.ReadKindEveryone:
		k := *r.Key
		h := k.Hash()
		return []meta.CoreMetadata{{Confidentiality: &meta.Confidentiality{Hash: h, Short: h.Short(), Key: &k}}}, nil
	}
	if _, ok := req.Session.ResolveReadKey(r.Hash, r.Derivation); !ok {
		return nil, &NoAuthorizationRead{Key: req.Key, Read: r}
	}
	return []meta.CoreMetadata{{Confidentiality: &meta.Confidentiality{
		Hash:       r.Hash,
		Short:      r.Hash.Short(),
		Derivation: r.Derivation,
	}}}, nil
}

func (c *Confidentiality) key(cf *meta.Confidentiality, s *session.Session) (crypto.ReadKey, error) {
	if cf.Key != nil && cf.Key.Hash() == cf.Hash {
		return *cf.Key, nil
	}
	if k, ok := s.ResolveReadKey(cf.Hash, cf.Derivation); ok {
		return k, nil
	}
	return crypto.ReadKey{}, ErrMissingReadKey
}

// DataAsUnderlay encrypts data under a fresh IV when the linter asked for
// confidentiality.
func (c *Confidentiality) DataAsUnderlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error) {
	cf := m.Confidentiality()
	if cf == nil || m.IsTombstone() {
		return data, nil
	}
	k, err := c.key(cf, s)
	if err != nil {
		return nil, err
	}
	iv := m.GenerateIV()
	return k.Encrypt(iv, data)
}

// DataAsOverlay decrypts data with whichever session key matches.
func (c *Confidentiality) DataAsOverlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error) {
	if err := checkConsistency(m); err != nil {
		return nil, err
	}
	cf := m.Confidentiality()
	if cf == nil || m.IsTombstone() {
		return data, nil
	}
	k, err := c.key(cf, s)
	if err != nil {
		return nil, err
	}
	plain, err := k.Decrypt(*m.IV(), data)
	if err != nil {
		return nil, errs.Mark(err, errs.Corruption)
	}
	return plain, nil
}

// ValidateEvent rejects inconsistent IV and confidentiality metadata.
func (c *Confidentiality) ValidateEvent(ev *Event, _ meta.TreeReader, _ Mode) error {
	return checkConsistency(ev.Meta)
}

func checkConsistency(m *meta.Metadata) error {
	cf, iv := m.Confidentiality(), m.IV()
	switch {
	case iv != nil && cf == nil:
		return ErrUnspecifiedReadability
	case cf != nil && iv == nil && !m.IsTombstone():
		return ErrNoIvPresent
	}
	return nil
}
