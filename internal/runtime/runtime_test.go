package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/trustchain/internal/chain"
	cfgpkg "github.com/rzbill/trustchain/internal/config"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "always"
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: logpkg.NewNopLogger()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, err := rt.EnsureNamespace("default"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
}

func TestOpenChainCommitsAndMeters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := Open(Options{Config: testConfig(t), Logger: logpkg.NewNopLogger(), Registerer: reg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()
	c, err := rt.OpenChain(ctx, "default/orders")
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	defer c.Close()
	if err := commitOne(ctx, c, id.FromString("order-1")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected metrics to be registered")
	}
	keys, err := rt.Registry().Chains()
	if err != nil || len(keys) != 1 || keys[0] != "default/orders" {
		t.Fatalf("chains: %v %v", keys, err)
	}
}

func TestOpenSelectsHashRoutine(t *testing.T) {
	defer crypto.SetHashRoutine(crypto.HashRoutineBlake3)
	cfg := testConfig(t)
	cfg.HashRoutine = "sha3"
	rt, err := Open(Options{Config: cfg, Logger: logpkg.NewNopLogger()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if crypto.CurrentHashRoutine() != crypto.HashRoutineSha3 {
		t.Fatalf("expected sha3 routine")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compaction = "sometimes"
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatalf("expected invalid config to fail")
	}
}

func commitOne(ctx context.Context, c *chain.Chain, key id.PrimaryKey) error {
	_, err := c.Commit(ctx, &chain.Transaction{
		ID:      uuid.New(),
		Session: session.New("runtime-test"),
		Ops:     []chain.Op{{Kind: chain.OpStore, Key: key, Data: []byte(`{"qty":1}`)}},
	})
	return err
}
