package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFsckCmd() *cobra.Command {
	var (
		repairOrphans bool
		adoptID       string
		adoptTree     string
		adoptMessage  string
	)

	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Check catalog and blob store consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()

			report, err := e.store.Fsck(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "artifacts %d, versions %d, blobs checked %d\n",
				report.ArtifactCount, report.VersionCount, report.BlobsChecked)

			for _, h := range report.MissingBlobs {
				fmt.Fprintf(out, "missing blob %s\n", h)
			}
			for _, h := range report.CorruptBlobs {
				fmt.Fprintf(out, "corrupt blob %s\n", h)
			}
			for _, o := range report.OrphanedArtifacts {
				fmt.Fprintf(out, "orphaned artifact %s (%s)\n", o.ID, o.Name)
			}

			if adoptID != "" {
				versionID, err := e.store.AdoptOrphanedArtifact(ctx, adoptID, adoptTree, adoptMessage)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "adopted %s as version %s of %s\n", adoptTree, versionID, adoptID)
			}

			if repairOrphans && len(report.OrphanedArtifacts) > 0 {
				n, err := e.store.DeleteOrphanedArtifacts(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %d orphaned artifact(s)\n", n)
			}

			if report.Clean() {
				fmt.Fprintln(out, "ok")
				return nil
			}
			if len(report.MissingBlobs) > 0 || len(report.CorruptBlobs) > 0 {
				return fmt.Errorf("fsck found blob problems")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repairOrphans, "repair-orphans", false, "delete artifacts that have no versions")
	cmd.Flags().StringVar(&adoptID, "adopt", "", "repair one orphaned artifact by snapshotting a workspace as its initial version")
	cmd.Flags().StringVar(&adoptTree, "adopt-tree", ".", "workspace tree to snapshot for --adopt")
	cmd.Flags().StringVarP(&adoptMessage, "message", "m", "adopted workspace", "commit message for --adopt")
	return cmd
}
