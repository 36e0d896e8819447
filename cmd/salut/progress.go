package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antoniostano/salut/internal/app"
	"github.com/antoniostano/salut/internal/store"
)

func newProgressCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or reset stored learner progress",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print stored progress as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.OpenStore(cmd.Context(), g.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			p, err := store.LoadOrNew(cmd.Context(), st, g.cfg.ProgressKey)
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete stored progress and transcript history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.OpenStore(cmd.Context(), g.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.ResetProgress(cmd.Context(), g.cfg.ProgressKey); err != nil {
				return err
			}
			g.logger.Info().Str("key", g.cfg.ProgressKey).Str("store", st.Mode()).Msg("progress reset")
			fmt.Fprintf(cmd.OutOrStdout(), "progress %q reset (%s)\n", g.cfg.ProgressKey, st.Mode())
			return nil
		},
	})
	return cmd
}
