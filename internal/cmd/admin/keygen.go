package admin

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzbill/trustchain/internal/crypto"
)

func newKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a write key and a read key passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			phrase, _ := cmd.Flags().GetString("read-seed")
			wk, err := crypto.GenerateWriteKey()
			if err != nil {
				return err
			}
			if phrase == "" {
				phrase = uuid.NewString()
			}
			rk := crypto.ReadKeyFromSeed(phrase)
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"write_seed":     hex.EncodeToString(wk.Seed()),
				"write_key_hash": wk.Hash().String(),
				"read_seed":      phrase,
				"read_key_hash":  rk.Hash().String(),
			})
		},
	}
	cmd.Flags().String("read-seed", "", "Passphrase for the read key (random when empty)")
	return cmd
}
