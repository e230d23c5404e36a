package admin

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/trustchain/internal/index"
	"github.com/rzbill/trustchain/internal/runtime"
)

func newChainsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains on this node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				keys, err := rt.Registry().Chains()
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

type leafView struct {
	Key        string `json:"key"`
	Version    string `json:"version"`
	Tombstone  bool   `json:"tombstone,omitempty"`
	Size       int    `json:"size"`
	Author     string `json:"author,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Collection uint64 `json:"collection,omitempty"`
	Signed     bool   `json:"signed"`
	Encrypted  bool   `json:"encrypted"`
}

func viewLeaf(l index.Leaf) leafView {
	v := leafView{
		Key:       l.Key.String(),
		Version:   l.Hash.String(),
		Tombstone: l.Tombstone,
		Size:      l.Size,
	}
	if m := l.Meta; m != nil {
		v.Author = m.Author()
		if ts := m.Timestamp(); !ts.IsZero() {
			v.Timestamp = ts.UTC().Format(time.RFC3339Nano)
		}
		if t := m.TreeLink(); t != nil {
			v.Parent, v.Collection = t.Parent.String(), t.Collection
		}
		v.Signed = len(m.Signatures()) > 0
		v.Encrypted = m.Confidentiality() != nil
	}
	return v
}

func newInspectCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <chain>",
		Short: "Show a chain's size, compaction state and, optionally, its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withKeys, _ := cmd.Flags().GetBool("keys")
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				c, err := rt.OpenChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				out := map[string]any{"stats": c.Stats(), "config": c.Config()}
				if withKeys {
					leaves := []leafView{}
					c.Range(func(l index.Leaf) bool {
						leaves = append(leaves, viewLeaf(l))
						return true
					})
					out["keys"] = leaves
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().Bool("keys", false, "List every indexed key")
	return cmd
}

func newCompactCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <chain>",
		Short: "Compact a chain now, regardless of its policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				c, err := rt.OpenChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				res, err := c.Compact(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
