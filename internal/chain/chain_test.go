package chain

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/trustchain/internal/compact"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/internal/session"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
	"github.com/rzbill/trustchain/pkg/id"
)

type env struct {
	dir string
	db  *pebblestore.DB
	reg *Registry
}

func newEnv(t *testing.T, mutate func(*RegistryOptions)) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir}
	e.open(t, mutate)
	t.Cleanup(func() { e.close(t) })
	return e
}

func (e *env) open(t *testing.T, mutate func(*RegistryOptions)) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: e.dir + "/meta"})
	require.NoError(t, err)
	opts := RegistryOptions{DataDir: e.dir, DB: db}
	if mutate != nil {
		mutate(&opts)
	}
	reg, err := NewRegistry(opts)
	require.NoError(t, err)
	e.db, e.reg = db, reg
}

func (e *env) close(t *testing.T) {
	t.Helper()
	if e.reg == nil {
		return
	}
	require.NoError(t, e.reg.Close())
	require.NoError(t, e.db.Close())
	e.reg, e.db = nil, nil
}

func (e *env) chain(t *testing.T, key string, opts ...OpenOption) *Chain {
	t.Helper()
	c, err := e.reg.Open(context.Background(), key, opts...)
	require.NoError(t, err)
	return c
}

func store(key id.PrimaryKey, version crypto.Hash, data string, cores ...meta.CoreMetadata) Op {
	return Op{Kind: OpStore, Key: key, Version: version, Data: []byte(data), Cores: cores}
}

func commit(t *testing.T, c *Chain, s *session.Session, ops ...Op) *Receipt {
	t.Helper()
	r, err := c.Commit(context.Background(), &Transaction{ID: uuid.New(), Session: s, Ops: ops})
	require.NoError(t, err)
	return r
}

func tryCommit(c *Chain, s *session.Session, ops ...Op) error {
	_, err := c.Commit(context.Background(), &Transaction{ID: uuid.New(), Session: s, Ops: ops})
	return err
}

func TestRegistryReturnsSameChain(t *testing.T) {
	e := newEnv(t, nil)
	a := e.chain(t, "demo")
	b := e.chain(t, "default/demo")
	assert.Same(t, a, b)

	require.NoError(t, a.Close())
	_, err := b.Subscribe(nil)
	require.NoError(t, err, "one reference remains open")
	require.NoError(t, b.Close())

	c := e.chain(t, "demo")
	assert.NotSame(t, a, c)
	require.NoError(t, c.Close())
}

func TestStoreLoadAndVersions(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "ns/objects")
	defer c.Close()
	s := session.New("alice")
	k := id.FromString("k")

	r := commit(t, c, s, store(k, crypto.Hash{}, `"one"`))
	v1 := r.Versions[k]

	obj, err := c.Load(context.Background(), s, k)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"one"`), obj.Data)
	assert.Equal(t, v1, obj.Version)
	assert.Equal(t, "alice", obj.Meta.Author())

	err = tryCommit(c, s, store(k, crypto.Hash{}, `"blind"`))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.True(t, errs.IsRetryable(err))

	r = commit(t, c, s, store(k, v1, `"two"`))
	v2 := r.Versions[k]
	assert.NotEqual(t, v1, v2)

	err = tryCommit(c, s, store(k, v1, `"stale"`))
	assert.ErrorIs(t, err, ErrVersionConflict)

	commit(t, c, s, Op{Kind: OpDelete, Key: k, Version: v2})
	_, err = c.Load(context.Background(), s, k)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errs.IsNotFound(err))

	err = tryCommit(c, s, store(k, v2, `"late"`))
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	assert.True(t, errs.IsRetryable(err))
	assert.False(t, errs.IsNotFound(err))
}

func TestCommitIsAllOrNothing(t *testing.T) {
	owner, err := crypto.GenerateWriteKey()
	require.NoError(t, err)
	e := newEnv(t, nil)
	c := e.chain(t, "atomic")
	defer c.Close()

	locked := id.FromString("locked")
	commit(t, c, session.New("owner", session.WriteKeyProperty(session.User, owner)),
		store(locked, crypto.Hash{}, `1`, meta.AuthorizationCore(meta.WriteSpecific(owner.Hash()), meta.ReadInherit())))
	before := c.Stats()

	v, _ := c.Version(locked)
	err = tryCommit(c, session.New("intruder"),
		store(id.FromString("fresh"), crypto.Hash{}, `2`),
		store(locked, v, `3`))
	require.True(t, errs.IsAuthorization(err))

	_, err = c.Load(context.Background(), session.New("x"), id.FromString("fresh"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before.Size, c.Stats().Size)
}

func TestLockedKeyRejectsOtherCommitters(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "locks")
	defer c.Close()
	s := session.New("a")
	k := id.FromString("k")
	v := commit(t, c, s, store(k, crypto.Hash{}, `1`)).Versions[k]

	holder := uuid.New()
	require.True(t, c.TryLock(k, holder))
	assert.False(t, c.TryLock(k, uuid.New()))

	err := tryCommit(c, s, store(k, v, `2`))
	assert.ErrorIs(t, err, ErrObjectStillLocked)

	_, err = c.Commit(context.Background(), &Transaction{ID: holder, Session: s, Ops: []Op{store(k, v, `2`)}})
	require.NoError(t, err)
	c.Unlock(k, holder)
	assert.True(t, c.TryLock(k, uuid.New()))
}

func TestListenersSeeCommitsInOrder(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "bus")
	defer c.Close()
	s := session.New("a")
	parent := id.FromString("parent")

	all, err := c.Subscribe(nil)
	require.NoError(t, err)
	kids, err := c.Subscribe(ChildrenOf(parent, 7))
	require.NoError(t, err)

	commit(t, c, s, store(parent, crypto.Hash{}, `{}`))
	commit(t, c, s, store(id.FromString("c1"), crypto.Hash{}, `1`, meta.TreeCore(parent, 7)))
	commit(t, c, s, store(id.FromString("c2"), crypto.Hash{}, `2`, meta.TreeCore(parent, 8)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"parent", "c1", "c2"} {
		n, err := all.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, id.FromString(want), n.Key)
	}
	n, err := kids.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.FromString("c1"), n.Key)
	assert.Equal(t, 0, kids.Pending())
	assert.Equal(t, []id.PrimaryKey{id.FromString("c1")}, c.Children(parent, 7))

	kids.Close()
	_, err = kids.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReopenRebuildsIndex(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "durable")
	s := session.New("a")
	k := id.FromString("k")
	v := commit(t, c, s, store(k, crypto.Hash{}, `1`)).Versions[k]
	commit(t, c, s, store(k, v, `2`))
	require.NoError(t, c.Close())
	e.close(t)

	e.open(t, nil)
	c = e.chain(t, "durable")
	defer c.Close()
	obj, err := c.Load(context.Background(), s, k)
	require.NoError(t, err)
	assert.Equal(t, []byte(`2`), obj.Data)
}

func TestRotationIsTrackedByManifest(t *testing.T) {
	e := newEnv(t, func(o *RegistryOptions) { o.RotateBytes = 256 })
	c := e.chain(t, "rotating")
	s := session.New("a")
	for i := 0; i < 20; i++ {
		commit(t, c, s, store(id.FromUint64(uint64(i+1)), crypto.Hash{}, `"some payload bytes"`))
	}
	archives := c.Stats().Archives
	require.Greater(t, len(archives), 1)
	require.NoError(t, c.Close())
	e.close(t)

	e.open(t, nil)
	c = e.chain(t, "rotating")
	defer c.Close()
	assert.Equal(t, archives, c.Stats().Archives)
	assert.Equal(t, 20, c.Stats().Live)
}

func TestCompactionKeepsLiveState(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "compact")
	s := session.New("a")
	a, b := id.FromString("a"), id.FromString("b")

	v := commit(t, c, s, store(a, crypto.Hash{}, `1`)).Versions[a]
	for i := 2; i <= 5; i++ {
		v = commit(t, c, s, store(a, v, `"version"`)).Versions[a]
	}
	vb := commit(t, c, s, store(b, crypto.Hash{}, `"doomed"`)).Versions[b]
	commit(t, c, s, Op{Kind: OpDelete, Key: b, Version: vb})

	before := c.Stats()
	res, err := c.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 6, res.Dropped)
	assert.Less(t, res.SizeAfter, before.Size)

	after := c.Stats()
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.False(t, after.Modified)
	assert.Equal(t, 1, after.Keys, "tombstoned key is gone")

	obj, err := c.Load(context.Background(), s, a)
	require.NoError(t, err)
	assert.Equal(t, v, obj.Version)

	// A fresh store of the dropped key is a new object again.
	commit(t, c, s, store(b, crypto.Hash{}, `"reborn"`))
	require.NoError(t, c.Close())
	e.close(t)

	e.open(t, nil)
	c = e.chain(t, "compact")
	defer c.Close()
	assert.Equal(t, 2, c.Stats().Live)
	obj, err = c.Load(context.Background(), s, a)
	require.NoError(t, err)
	assert.Equal(t, v, obj.Version)
}

func TestCompactionPreservesSignatures(t *testing.T) {
	wk, err := crypto.GenerateWriteKey()
	require.NoError(t, err)
	rk, err := crypto.GenerateReadKey()
	require.NoError(t, err)
	e := newEnv(t, nil)
	c := e.chain(t, "signed", WithRoots(meta.Roots{Write: meta.WriteSpecific(wk.Hash()), Read: meta.ReadSpecific(rk.Hash(), nil)}))
	defer c.Close()
	s := session.New("a", session.WriteKeyProperty(session.User, wk), session.ReadKeyProperty(session.User, rk))

	k := id.FromString("k")
	v := commit(t, c, s, store(k, crypto.Hash{}, `"secret"`)).Versions[k]
	commit(t, c, s, store(k, v, `"secret 2"`))
	_, err = c.Compact(context.Background())
	require.NoError(t, err)

	obj, err := c.Load(context.Background(), s, k)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"secret 2"`), obj.Data)
	require.Len(t, obj.Meta.Signatures(), 1)

	_, err = c.Load(context.Background(), session.New("stranger"), k)
	assert.True(t, errs.IsAuthorization(err))
}

func TestBackgroundCompactionOnModified(t *testing.T) {
	e := newEnv(t, func(o *RegistryOptions) { o.Compaction = compact.Modified() })
	c := e.chain(t, "auto")
	defer c.Close()
	s := session.New("a")
	k := id.FromString("k")
	v := commit(t, c, s, store(k, crypto.Hash{}, `1`)).Versions[k]
	commit(t, c, s, store(k, v, `2`))

	require.Eventually(t, func() bool {
		st := c.Stats()
		return st.Generation > 1 && !st.Modified
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseDuringBackgroundCompaction(t *testing.T) {
	e := newEnv(t, func(o *RegistryOptions) { o.Compaction = compact.Modified() })
	c := e.chain(t, "closing")
	s := session.New("a")
	k := id.FromString("k")
	v := commit(t, c, s, store(k, crypto.Hash{}, `0`)).Versions[k]

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			r, err := c.Commit(context.Background(), &Transaction{ID: uuid.New(), Session: s, Ops: []Op{store(k, v, strconv.Itoa(i))}})
			if err != nil {
				return
			}
			v = r.Versions[k]
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())
	wg.Wait()

	// Nothing starts once the chain is closed.
	c.maybeCompact()
	assert.False(t, c.compacting.Load())
}

func TestIngestValidatesPeerEvents(t *testing.T) {
	wk, err := crypto.GenerateWriteKey()
	require.NoError(t, err)
	other, err := crypto.GenerateWriteKey()
	require.NoError(t, err)
	roots := WithRoots(meta.Roots{Write: meta.WriteSpecific(wk.Hash()), Read: meta.ReadEveryone(nil)})

	e := newEnv(t, nil)
	src := e.chain(t, "peer/source", roots)
	defer src.Close()
	dst := e.chain(t, "peer/replica", roots)
	defer dst.Close()
	rogue := e.chain(t, "peer/rogue", WithRoots(meta.Roots{Write: meta.WriteSpecific(other.Hash()), Read: meta.ReadEveryone(nil)}))
	defer rogue.Close()

	k := id.FromString("k")
	commit(t, src, session.New("a", session.WriteKeyProperty(session.User, wk)), store(k, crypto.Hash{}, `"hi"`))
	ev, _, err := src.LoadEvent(context.Background(), k)
	require.NoError(t, err)

	_, err = dst.Ingest(context.Background(), []*pipeline.Event{ev})
	require.NoError(t, err)
	obj, err := dst.Load(context.Background(), session.New("r"), k)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"hi"`), obj.Data)

	commit(t, rogue, session.New("o", session.WriteKeyProperty(session.User, other)), store(k, crypto.Hash{}, `"forged"`))
	forged, _, err := rogue.LoadEvent(context.Background(), k)
	require.NoError(t, err)
	_, err = dst.Ingest(context.Background(), []*pipeline.Event{forged})
	assert.True(t, errs.IsAuthorization(err))
}

func TestStrayArchivesRemovedOnOpen(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "strays")
	commit(t, c, session.New("a"), store(id.FromString("k"), crypto.Hash{}, `1`))
	require.NoError(t, c.Close())

	dir := e.reg.dir("default", "strays")
	stray := redo.ArchivePath(dir, LogName, 9)
	require.NoError(t, os.WriteFile(stray, []byte("leftover"), 0o644))

	c = e.chain(t, "strays")
	defer c.Close()
	_, err := os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, c.Stats().Live)
}

func TestHashRoutineMismatch(t *testing.T) {
	e := newEnv(t, nil)
	c := e.chain(t, "hashed")
	require.NoError(t, c.Close())

	crypto.SetHashRoutine(crypto.HashRoutineSha3)
	defer crypto.SetHashRoutine(crypto.HashRoutineBlake3)
	_, err := e.reg.Open(context.Background(), "hashed")
	assert.ErrorIs(t, err, ErrHashRoutineMismatch)
}
