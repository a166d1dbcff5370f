package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "filepicker",
		Short:   "File picker widget service",
		Version: version,
		Long: `filepicker hosts file picker widgets: it applies each widget's
restrictions to picked files, materializes them into the widget's
selected files, and dispatches the widget's onFilesSelected action.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		schemaCmd(),
		materializeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
