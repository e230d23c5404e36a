package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/index"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

type fixture struct {
	ix     *index.Index
	plugin *Plugin
	loc    uint32
}

func newFixture(roots meta.Roots) *fixture {
	ix := index.New()
	return &fixture{ix: ix, plugin: New(roots, NewIndexFeeder(ix))}
}

// write runs lint and underlay for m, then validates at ingest and indexes.
func (f *fixture) write(t *testing.T, s *session.Session, m *meta.Metadata, payload []byte) (*Event, error) {
	t.Helper()
	key, _ := m.DataKey()
	committed, _ := f.ix.LatestMetadata(key)
	cores, err := f.plugin.LintEvent(context.Background(), &LintRequest{
		Key: key, Meta: m, Committed: committed, Session: s, Tree: f.ix,
	})
	if err != nil {
		return nil, err
	}
	m.Add(cores...)
	data, err := f.plugin.DataAsUnderlay(m, payload, s)
	if err != nil {
		return nil, err
	}
	ev := &Event{Meta: m, Data: data}
	if err := f.plugin.ValidateEvent(ev, f.ix, ModeIngest); err != nil {
		return nil, err
	}
	f.loc++
	f.plugin.IndexEvent(ev, redo.Location{Offset: int64(f.loc)})
	return ev, nil
}

func mustWriteKey(t *testing.T) *crypto.WriteKey {
	t.Helper()
	wk, err := crypto.GenerateWriteKey()
	require.NoError(t, err)
	return wk
}

func mustReadKey(t *testing.T) crypto.ReadKey {
	t.Helper()
	rk, err := crypto.GenerateReadKey()
	require.NoError(t, err)
	return rk
}

func TestEveryoneNeedsNoSignature(t *testing.T) {
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	s := session.New("anon")

	ev, err := f.write(t, s, meta.New(id.FromString("a")), []byte("hello"))
	require.NoError(t, err)
	assert.Empty(t, ev.Meta.Signatures())
	assert.Nil(t, ev.Meta.Confidentiality())
	assert.Equal(t, []byte("hello"), ev.Data)
}

func TestSpecificWriterSigns(t *testing.T) {
	wk := mustWriteKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteSpecific(wk.Hash()), Read: meta.ReadEveryone(nil)})
	s := session.New("alice", session.WriteKeyProperty(session.User, wk))

	ev, err := f.write(t, s, meta.New(id.FromString("a")), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, ev.Meta.Signatures(), 1)
	assert.Equal(t, wk.Public(), ev.Meta.Signatures()[0].PublicKey)

	out, err := f.plugin.DataAsOverlay(ev.Meta, ev.Data, session.New("reader"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)

	_, err = f.plugin.DataAsOverlay(ev.Meta, []byte("tampered"), session.New("reader"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, errs.Corruption)
}

func TestWriterWithoutKeyIsRejected(t *testing.T) {
	wk := mustWriteKey(t)
	other := mustWriteKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteSpecific(wk.Hash()), Read: meta.ReadEveryone(nil)})

	_, err := f.write(t, session.New("mallory", session.WriteKeyProperty(session.User, other)),
		meta.New(id.FromString("a")), []byte("x"))
	var nw *NoAuthorizationWrite
	require.True(t, errors.As(err, &nw))
	assert.Equal(t, id.FromString("a"), nw.Key)
	assert.True(t, errs.IsAuthorization(err))
}

func TestNobodyRejectsEveryWriter(t *testing.T) {
	wk := mustWriteKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteNobody(), Read: meta.ReadEveryone(nil)})
	_, err := f.write(t, session.New("alice", session.WriteKeyProperty(session.User, wk)),
		meta.New(id.FromString("a")), []byte("x"))
	assert.True(t, errs.IsAuthorization(err))
}

func TestOrphanEventIsRejected(t *testing.T) {
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	_, err := f.plugin.LintEvent(context.Background(), &LintRequest{Meta: &meta.Metadata{}, Session: session.New("x"), Tree: f.ix})
	assert.ErrorIs(t, err, ErrNoAuthorizationOrphan)
}

func TestChildInheritsParentWritePolicy(t *testing.T) {
	owner := mustWriteKey(t)
	child := mustWriteKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	s := session.New("alice", session.WriteKeyProperty(session.User, owner))

	parent := id.FromString("parent")
	_, err := f.write(t, s, meta.New(parent, meta.AuthorizationCore(meta.WriteSpecific(owner.Hash()), meta.ReadInherit())), []byte("p"))
	require.NoError(t, err)

	m := meta.New(id.FromString("child"), meta.TreeCore(parent, 1))
	_, err = f.write(t, session.New("bob", session.WriteKeyProperty(session.User, child)), m, []byte("c"))
	assert.True(t, errs.IsAuthorization(err), "child of owner-only parent must require owner key")

	ev, err := f.write(t, s, meta.New(id.FromString("child"), meta.TreeCore(parent, 1)), []byte("c"))
	require.NoError(t, err)
	assert.Len(t, ev.Meta.Signatures(), 1)
}

func TestConfidentialRoundTrip(t *testing.T) {
	rk := mustReadKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	s := session.New("alice", session.ReadKeyProperty(session.User, rk))

	m := meta.New(id.FromString("secret"), meta.AuthorizationCore(meta.WriteInherit(), meta.ReadSpecific(rk.Hash(), nil)))
	ev, err := f.write(t, s, m, []byte("plaintext"))
	require.NoError(t, err)
	require.NotNil(t, ev.Meta.IV())
	require.NotNil(t, ev.Meta.Confidentiality())
	assert.NotEqual(t, []byte("plaintext"), ev.Data)

	out, err := f.plugin.DataAsOverlay(ev.Meta, ev.Data, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), out)

	_, err = f.plugin.DataAsOverlay(ev.Meta, ev.Data, session.New("stranger"))
	assert.ErrorIs(t, err, ErrMissingReadKey)
	assert.True(t, errs.IsAuthorization(err))
}

func TestConfidentialViaDerivedKey(t *testing.T) {
	rk := mustReadKey(t)
	priv, err := crypto.GeneratePrivateReadKey()
	require.NoError(t, err)
	sealed, err := priv.Public().Seal(rk)
	require.NoError(t, err)

	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	writer := session.New("alice", session.ReadKeyProperty(session.User, rk))
	m := meta.New(id.FromString("shared"), meta.AuthorizationCore(meta.WriteInherit(), meta.ReadSpecific(rk.Hash(), sealed)))
	ev, err := f.write(t, writer, m, []byte("for bob"))
	require.NoError(t, err)

	bob := session.New("bob", session.PrivateReadKeyProperty(session.User, priv))
	out, err := f.plugin.DataAsOverlay(ev.Meta, ev.Data, bob)
	require.NoError(t, err)
	assert.Equal(t, []byte("for bob"), out)
}

func TestReadSpecificWithoutKeyFailsLint(t *testing.T) {
	rk := mustReadKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadSpecific(rk.Hash(), nil)})
	_, err := f.write(t, session.New("nokeys"), meta.New(id.FromString("a")), []byte("x"))
	var nr *NoAuthorizationRead
	require.True(t, errors.As(err, &nr))
	assert.True(t, errs.IsAuthorization(err))
}

func TestEveryoneKeyObfuscatesButAnyoneReads(t *testing.T) {
	rk := mustReadKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(&rk)})
	ev, err := f.write(t, session.New("nokeys"), meta.New(id.FromString("a")), []byte("obfuscated"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("obfuscated"), ev.Data)

	out, err := f.plugin.DataAsOverlay(ev.Meta, ev.Data, session.New("anyone"))
	require.NoError(t, err)
	assert.Equal(t, []byte("obfuscated"), out)
}

func TestInconsistentConfidentiality(t *testing.T) {
	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	m := meta.New(id.FromString("a"), meta.IVCore(crypto.GenerateIV()))
	err := f.plugin.ValidateEvent(&Event{Meta: m, Data: []byte("x")}, f.ix, ModeReplay)
	assert.ErrorIs(t, err, ErrUnspecifiedReadability)

	rk := mustReadKey(t)
	h := rk.Hash()
	m = meta.New(id.FromString("b"), meta.CoreMetadata{Confidentiality: &meta.Confidentiality{Hash: h, Short: h.Short()}})
	err = f.plugin.ValidateEvent(&Event{Meta: m, Data: []byte("x")}, f.ix, ModeReplay)
	assert.ErrorIs(t, err, ErrNoIvPresent)
}

func TestReplayModeSkipsAuthorization(t *testing.T) {
	wk := mustWriteKey(t)
	intruder := mustWriteKey(t)
	f := newFixture(meta.Roots{Write: meta.WriteSpecific(wk.Hash()), Read: meta.ReadEveryone(nil)})

	m := meta.New(id.FromString("a"), meta.SignWithCore(intruder.Hash()))
	data, err := f.plugin.DataAsUnderlay(m, []byte("x"), session.New("i", session.WriteKeyProperty(session.User, intruder)))
	require.NoError(t, err)
	ev := &Event{Meta: m, Data: data}

	assert.True(t, errs.IsAuthorization(f.plugin.ValidateEvent(ev, f.ix, ModeIngest)))
	assert.NoError(t, f.plugin.ValidateEvent(ev, f.ix, ModeReplay))
}

func TestRebuildReplaysArchives(t *testing.T) {
	dir := t.TempDir()
	l, err := redo.Open(redo.Options{Dir: dir, Name: "chain"})
	require.NoError(t, err)
	defer l.Close()

	f := newFixture(meta.Roots{Write: meta.WriteEveryone(), Read: meta.ReadEveryone(nil)})
	var entries []redo.Entry
	for _, k := range []string{"a", "b", "a"} {
		ev, err := f.write(t, session.New("x"), meta.New(id.FromString(k)), []byte(k))
		require.NoError(t, err)
		b, err := meta.MarshalMeta(meta.FormatBinary, ev.Meta)
		require.NoError(t, err)
		entries = append(entries, redo.Entry{Meta: b, Data: ev.Data})
	}
	entries = append(entries, redo.Entry{Meta: []byte{0xff}, Data: nil})
	_, err = l.Append(context.Background(), entries)
	require.NoError(t, err)

	st, err := f.plugin.Rebuild(context.Background(), l, meta.FormatBinary, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Events)
	assert.Equal(t, 1, st.Corrupt)
	assert.Equal(t, 2, f.ix.Live())
}
