package admin

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/dio"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/runtime"
	"github.com/rzbill/trustchain/pkg/id"
)

// parseKey accepts the 16-digit hex form, or derives a key from any other
// string.
func parseKey(s string) id.PrimaryKey {
	if k, err := id.Parse(s); err == nil {
		return k
	}
	return id.FromString(s)
}

func newPutCommand(g *globals) *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "put <chain> <key> <json>",
		Short: "Store a JSON value, replacing any live version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
				return fmt.Errorf("invalid value: %w", err)
			}
			opts, err := storeOptions(cmd)
			if err != nil {
				return err
			}
			sess, err := sf.session()
			if err != nil {
				return err
			}
			key := parseKey(args[1])
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				c, err := rt.OpenChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				rcpt, err := dio.RunTx(cmd.Context(), c, sess, func(d *dio.Dio) error {
					cur, err := dio.Load[any](cmd.Context(), d, key)
					switch {
					case err == nil:
						cur.Value = value
						return cur.SaveWithOptions(d, opts)
					case isNotFound(err):
						_, err = d.StoreWithOptions(key, value, opts)
						return err
					default:
						return err
					}
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key: %s version: %s\n", key, rcpt.Versions[key])
				return nil
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringSlice("writer", nil, "Restrict writes to these write-key hashes")
	cmd.Flags().Bool("nobody", false, "Make the object immutable")
	cmd.Flags().String("reader", "", "Encrypt for the read key with this hash")
	return cmd
}

func storeOptions(cmd *cobra.Command) (dio.StoreOptions, error) {
	var opts dio.StoreOptions
	writers, _ := cmd.Flags().GetStringSlice("writer")
	nobody, _ := cmd.Flags().GetBool("nobody")
	reader, _ := cmd.Flags().GetString("reader")
	switch {
	case nobody:
		opts.Write = meta.WriteNobody()
	case len(writers) > 0:
		hs := make([]crypto.Hash, 0, len(writers))
		for _, w := range writers {
			h, err := crypto.ParseHash(w)
			if err != nil {
				return opts, fmt.Errorf("invalid --writer: %w", err)
			}
			hs = append(hs, h)
		}
		opts.Write = meta.WriteAny(hs...)
	}
	if reader != "" {
		h, err := crypto.ParseHash(reader)
		if err != nil {
			return opts, fmt.Errorf("invalid --reader: %w", err)
		}
		opts.Read = meta.ReadSpecific(h, nil)
	}
	return opts, nil
}

func newGetCommand(g *globals) *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "get <chain> <key>",
		Short: "Print the newest version of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := sf.session()
			if err != nil {
				return err
			}
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				c, err := rt.OpenChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				obj, err := dio.Load[any](cmd.Context(), dio.New(c, sess), parseKey(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"key":     obj.Key().String(),
					"version": obj.Version().String(),
					"author":  obj.Metadata().Author(),
					"value":   jsonSafe(obj.Value),
				})
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func newDeleteCommand(g *globals) *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "delete <chain> <key>",
		Short: "Tombstone a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := sf.session()
			if err != nil {
				return err
			}
			key := parseKey(args[1])
			return g.withRuntime(cmd.Context(), func(rt *runtime.Runtime) error {
				c, err := rt.OpenChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				_, err = dio.RunTx(cmd.Context(), c, sess, func(d *dio.Dio) error {
					d.Delete(key)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", key)
				return nil
			})
		},
	}
	sf.register(cmd)
	return cmd
}
