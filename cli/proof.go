package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolink/callgate/session"
)

func newProofCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "proof <identity>",
		Short: "Mint a signed session proof for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Session.Mode != session.ModeSigned {
				return fmt.Errorf("proofs can only be minted offline in %s session mode", session.ModeSigned)
			}

			binder, err := session.NewSignedBinder([]byte(cfg.Session.Secret), session.WithTTL(cfg.Session.TTL))
			if err != nil {
				return err
			}
			proof, err := binder.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), proof)
			return nil
		},
	}
}
