package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "patchgate",
		Short: "Content-addressed versioning with safety-gated patch approval",
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "patchgate data directory")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newMaterializeCmd())
	root.AddCommand(newProposeCmd())
	root.AddCommand(newRequestsCmd())
	root.AddCommand(newDecideCmd())
	root.AddCommand(newApplyCmd())
	root.AddCommand(newFsckCmd())
	root.AddCommand(newBundleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("patchgate 0.1.0-dev")
		},
	}
}
