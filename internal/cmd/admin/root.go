// Package admin contains the Cobra commands of the trustchain CLI. Every
// command opens the runtime in-process from the shared configuration flags.
package admin

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/trustchain/internal/config"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/runtime"
	"github.com/rzbill/trustchain/internal/session"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
}

// NewRoot constructs the root command and registers every command group.
func NewRoot() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "trustchain",
		Short:         "Trustchain chain-of-trust CLI",
		Long:          "Trustchain stores signed, optionally encrypted objects in append-only chains. This CLI manages chains on the local node.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (.json, .yaml or .yml)")
	pf.StringVar(&g.dataDir, "data-dir", "", "Data directory (overrides config and TRUSTCHAIN_DATA_DIR)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(
		newServeCommand(g),
		newChainsCommand(g),
		newInspectCommand(g),
		newCompactCommand(g),
		newPutCommand(g),
		newGetCommand(g),
		newDeleteCommand(g),
		newKeygenCommand(),
		newDemoCommand(g),
	)
	return root
}

// config resolves file, then environment, then flags.
func (g *globals) config() (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, cfg.Validate()
}

func (g *globals) logger(cfg cfgpkg.Config) (logpkg.Logger, error) {
	l, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return nil, err
	}
	logpkg.RedirectStdLog(l)
	return l, nil
}

// withRuntime opens the runtime for the duration of fn.
func (g *globals) withRuntime(ctx context.Context, fn func(*runtime.Runtime) error) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg)
	if err != nil {
		return err
	}
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// sessionFlags builds a session from --identity, --write-seed and
// --read-seed.
type sessionFlags struct {
	identity   string
	writeSeeds []string
	readSeeds  []string
}

func (s *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.identity, "identity", "cli", "Author recorded on written events")
	cmd.Flags().StringSliceVar(&s.writeSeeds, "write-seed", nil, "Hex ed25519 seed of a write key to sign with (repeatable)")
	cmd.Flags().StringSliceVar(&s.readSeeds, "read-seed", nil, "Passphrase of a read key to encrypt or decrypt with (repeatable)")
}

func (s *sessionFlags) session() (*session.Session, error) {
	sess := session.New(s.identity)
	for _, seed := range s.writeSeeds {
		b, err := hex.DecodeString(seed)
		if err != nil {
			return nil, fmt.Errorf("invalid --write-seed: %w", err)
		}
		k, err := crypto.WriteKeyFromSeed(b)
		if err != nil {
			return nil, fmt.Errorf("invalid --write-seed: %w", err)
		}
		sess.Append(session.WriteKeyProperty(session.User, k))
	}
	for _, seed := range s.readSeeds {
		sess.Append(session.ReadKeyProperty(session.User, crypto.ReadKeyFromSeed(seed)))
	}
	return sess, nil
}
