package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/mediavault/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an access token for a configured user without a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			gate, err := auth.New(&cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := gate.Issue(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), tok)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", tok.Value, tok.ExpiresAt.Format(time.RFC3339))
			return err
		},
	}
}
