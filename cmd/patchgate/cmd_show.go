package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	var printFile string

	cmd := &cobra.Command{
		Use:   "show <version-id>",
		Short: "Show a version's metadata and manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if printFile != "" {
				data, err := e.store.GetFile(cmd.Context(), args[0], printFile)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			v, err := e.store.GetVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "version  %s\n", v.ID)
			fmt.Fprintf(out, "artifact %s\n", v.ArtifactID)
			if v.BaseVersionID != "" {
				fmt.Fprintf(out, "base     %s\n", v.BaseVersionID)
			}
			fmt.Fprintf(out, "created  %s\n", v.CreatedAt.Format("2006-01-02 15:04:05"))
			if v.CommitMessage != "" {
				fmt.Fprintf(out, "message  %s\n", v.CommitMessage)
			}
			fmt.Fprintln(out)
			for _, entry := range v.Manifest {
				fmt.Fprintf(out, "%s  %8d  %s\n", entry.Hash[:12], entry.Size, entry.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&printFile, "file", "", "print one file's contents instead of the manifest")
	return cmd
}
