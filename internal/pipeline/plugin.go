package pipeline

import (
	"context"

	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// LintRequest is the input to a linter.
type LintRequest struct {
	Key id.PrimaryKey
	// Meta is the new event's metadata so far.
	Meta *meta.Metadata
	// Committed is the newest committed live metadata for Key, nil for a new
	// key.
	Committed *meta.Metadata
	Session   *session.Session
	Tree      meta.TreeReader
}

// Linter runs before an event is appended.
type Linter interface {
	LintEvent(ctx context.Context, req *LintRequest) ([]meta.CoreMetadata, error)
}

// Transformer converts payloads between their stored and readable forms.
type Transformer interface {
	DataAsUnderlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error)
	DataAsOverlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error)
}

// Validator accepts or rejects an event before it is indexed.
type Validator interface {
	ValidateEvent(ev *Event, tree meta.TreeReader, mode Mode) error
}

// Indexer records committed events.
type Indexer interface {
	IndexEvent(ev *Event, loc redo.Location)
}

// Compactor votes on one event of a compaction pass. Events are presented
// newest first.
type Compactor interface {
	Relevance(ev *Event) Relevance
}

// Plugin is the default composite implementation of every capability.
type Plugin struct {
	roots   meta.Roots
	signing *Signing
	conf    *Confidentiality
	indexer *IndexFeeder
}

var (
	_ Linter      = (*Plugin)(nil)
	_ Transformer = (*Plugin)(nil)
	_ Validator   = (*Plugin)(nil)
	_ Indexer     = (*Plugin)(nil)
)

// New returns a plugin resolving against roots and feeding ix.
func New(roots meta.Roots, ix *IndexFeeder) *Plugin {
	return &Plugin{
		roots:   roots,
		signing: &Signing{roots: roots},
		conf:    &Confidentiality{roots: roots},
		indexer: ix,
	}
}

// Roots returns the chain root options the plugin resolves against.
func (p *Plugin) Roots() meta.Roots { return p.roots }

// LintEvent runs the signing linter, then the confidentiality linter.
func (p *Plugin) LintEvent(ctx context.Context, req *LintRequest) ([]meta.CoreMetadata, error) {
	if _, ok := req.Meta.DataKey(); !ok {
		return nil, ErrNoAuthorizationOrphan
	}
	out, err := p.signing.LintEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	more, err := p.conf.LintEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	return append(out, more...), nil
}

// DataAsUnderlay encrypts, then signs over the ciphertext.
func (p *Plugin) DataAsUnderlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error) {
	data, err := p.conf.DataAsUnderlay(m, data, s)
	if err != nil {
		return nil, err
	}
	return p.signing.DataAsUnderlay(m, data, s)
}

// DataAsOverlay verifies signatures, then decrypts.
func (p *Plugin) DataAsOverlay(m *meta.Metadata, data []byte, s *session.Session) ([]byte, error) {
	data, err := p.signing.DataAsOverlay(m, data, s)
	if err != nil {
		return nil, err
	}
	return p.conf.DataAsOverlay(m, data, s)
}

// ValidateEvent checks structure, then signatures and authorization.
func (p *Plugin) ValidateEvent(ev *Event, tree meta.TreeReader, mode Mode) error {
	if _, ok := ev.Key(); !ok {
		return ErrNoAuthorizationOrphan
	}
	if err := p.conf.ValidateEvent(ev, tree, mode); err != nil {
		return err
	}
	return p.signing.ValidateEvent(ev, tree, mode)
}

// IndexEvent forwards to the index feeder.
func (p *Plugin) IndexEvent(ev *Event, loc redo.Location) {
	if p.indexer != nil {
		p.indexer.IndexEvent(ev, loc)
	}
}

// Compactors returns a fresh set of compactors for one pass.
func (p *Plugin) Compactors() []Compactor {
	return []Compactor{NewSupersededCompactor(), NewTombstoneCompactor(), NewLiveCompactor()}
}
