package pipeline

import (
	"context"

	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/session"
)

// Signing is the sub-plugin that enforces write authorization.
type Signing struct {
	roots meta.Roots
}

// effectiveWrite resolves the write option governing a change to key. An
// existing key is governed by its committed policy and position; a new key
// by the position it is being created at.
func (s *Signing) effectiveWrite(tree meta.TreeReader, m, committed *meta.Metadata) (meta.WriteOption, error) {
	if committed != nil {
		own := meta.WriteInherit()
		if a := committed.Authorization(); a != nil {
			own = a.Write
		}
		return meta.ResolveWrite(tree, own, committed.TreeLink(), s.roots)
	}
	return meta.ResolveWrite(tree, meta.WriteInherit(), m.TreeLink(), s.roots)
}

// LintEvent emits SignWith for the authorized write keys the session holds.
func (s *Signing) LintEvent(_ context.Context, req *LintRequest) ([]meta.CoreMetadata, error) {
	w, err := s.effectiveWrite(req.Tree, req.Meta, req.Committed)
	if err != nil {
		return nil, err
	}
	switch w.Kind {
	case meta.WriteKindEveryone:
		return nil, nil
	case meta.WriteKindNobody:
		return nil, &NoAuthorizationWrite{Key: req.Key, Write: w}
	}
	var held []meta.CoreMetadata
	for _, h := range w.Hashes {
		if req.Session.HasWriteKey(h) {
			held = append(held, meta.SignWithCore(h))
		}
	}
	if len(held) == 0 {
		return nil, &NoAuthorizationWrite{Key: req.Key, Write: w}
	}
	return held, nil
}

// DataAsUnderlay signs the event with every SignWith key.
func (s *Signing) DataAsUnderlay(m *meta.Metadata, data []byte, sess *session.Session) ([]byte, error) {
	want := m.SignWith()
	if len(want) == 0 {
		return data, nil
	}
	digest := Digest(m, data)
	for _, h := range want {
		wk, ok := sess.FindWriteKey(h)
		if !ok {
			key, _ := m.DataKey()
			return nil, &NoAuthorizationWrite{Key: key, Write: meta.WriteSpecific(h)}
		}
		m.Add(meta.SignatureCore(wk.Public(), wk.Sign(digest)))
	}
	return data, nil
}

// DataAsOverlay verifies every signature.
func (s *Signing) DataAsOverlay(m *meta.Metadata, data []byte, _ *session.Session) ([]byte, error) {
	if err := verifySignatures(m, data); err != nil {
		return nil, err
	}
	return data, nil
}

func verifySignatures(m *meta.Metadata, data []byte) error {
	sigs := m.Signatures()
	if len(sigs) == 0 {
		return nil
	}
	digest := Digest(m, data)
	for _, sig := range sigs {
		if !sig.PublicKey.Verify(digest, sig.Signature) {
			return ErrInvalidSignature
		}
	}
	return nil
}

// ValidateEvent verifies signatures and, at ingest, that one of them is by
// an authorized key.
func (s *Signing) ValidateEvent(ev *Event, tree meta.TreeReader, mode Mode) error {
	if err := verifySignatures(ev.Meta, ev.Data); err != nil {
		return err
	}
	if mode == ModeReplay {
		return nil
	}
	key, _ := ev.Key()
	committed, _ := tree.LatestMetadata(key)
	w, err := s.effectiveWrite(tree, ev.Meta, committed)
	if err != nil {
		return err
	}
	switch w.Kind {
	case meta.WriteKindEveryone:
		return nil
	case meta.WriteKindNobody:
		return &NoAuthorizationWrite{Key: key, Write: w}
	}
	for _, sig := range ev.Meta.Signatures() {
		if w.Permits(sig.PublicKey.Hash()) {
			return nil
		}
	}
	return &NoAuthorizationWrite{Key: key, Write: w}
}
