package main

import (
	"encoding/json"

	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func schemaCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the widget property pane schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := filepicker.WidgetSchema()
			out := cmd.OutOrStdout()
			if format == "yaml" {
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(schema)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format (json or yaml)")

	return cmd
}
