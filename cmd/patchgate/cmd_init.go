package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odvcencio/patchgate/pkg/approval"
	"github.com/odvcencio/patchgate/pkg/blob"
	"github.com/odvcencio/patchgate/pkg/store"
)

func newInitCmd() *cobra.Command {
	var signingKey string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the patchgate data directory and catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(dataDir)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			cfg := store.DefaultConfig(abs)
			cfg.SigningKey = signingKey
			if err := store.WriteConfig(abs, cfg); err != nil {
				return err
			}

			logger := newLogger()
			st, err := store.Open(cfg.CatalogPath, blob.NewStore(cfg.BlobDir), logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if _, err := approval.NewLedger(st, logger); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized patchgate catalog in %s\n", abs)
			return nil
		},
	}

	cmd.Flags().StringVar(&signingKey, "sign-key", "", "default SSH private key for signing decisions")
	return cmd
}
