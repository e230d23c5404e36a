package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/dio"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/runtime"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// Ball is the demo payload.
type Ball struct {
	Ball string `json:"ball" msgpack:"ball"`
}

func newDemoCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Play ping-pong between three sessions on a protected object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keep, _ := cmd.Flags().GetBool("keep")
			if !keep && g.dataDir == "" {
				dir, err := os.MkdirTemp("", "trustchain-demo-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				g.dataDir = dir
			}
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				return runDemo(cmd.Context(), rt, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().Bool("keep", false, "Use the configured data directory instead of a temporary one")
	return cmd
}

func runDemo(ctx context.Context, rt *runtime.Runtime, out io.Writer) error {
	c, err := rt.OpenChain(ctx, "demo/"+id.Generate().String())
	if err != nil {
		return err
	}
	defer c.Close()

	w1, err := crypto.GenerateWriteKey()
	if err != nil {
		return err
	}
	w2, err := crypto.GenerateWriteKey()
	if err != nil {
		return err
	}
	rk, err := crypto.GenerateReadKey()
	if err != nil {
		return err
	}
	s1 := session.New("player-1", session.WriteKeyProperty(session.User, w1), session.ReadKeyProperty(session.User, rk))
	s2 := session.New("player-2", session.WriteKeyProperty(session.User, w2), session.ReadKeyProperty(session.User, rk))
	s3 := session.New("spectator", session.ReadKeyProperty(session.User, rk))

	d := dio.New(c, s1)
	key, err := d.StoreWithOptions(id.Generate(), Ball{Ball: "ping"}, dio.StoreOptions{
		Write: meta.WriteSpecific(w1.Hash()),
		Read:  meta.ReadSpecific(rk.Hash(), nil),
	})
	if err != nil {
		return err
	}
	if _, err := d.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "player-1 served %q as %s\n", "ping", key)

	d2 := dio.New(c, s2)
	ball, err := dio.Load[Ball](ctx, d2, key)
	if err != nil {
		return err
	}
	ball.Value.Ball = "pong"
	if err := ball.Save(d2); err != nil {
		return err
	}
	if _, err := d2.Commit(ctx); !errs.IsAuthorization(err) {
		return fmt.Errorf("player-2 should not be allowed to write: %v", err)
	}
	fmt.Fprintln(out, "player-2 was refused: not an authorized writer")

	rcpt, err := dio.RunTx(ctx, c, s1, func(d *dio.Dio) error {
		b, err := dio.Load[Ball](ctx, d, key)
		if err != nil {
			return err
		}
		b.Value.Ball = "pong"
		return b.Save(d)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "player-1 returned %q at version %s\n", "pong", rcpt.Versions[key].Short())

	seen, err := dio.Load[Ball](ctx, dio.New(c, s3), key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "spectator reads %q\n", seen.Value.Ball)
	return nil
}
