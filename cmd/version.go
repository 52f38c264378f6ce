package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/pkg/buildinfo"
)

var versionOutput string

// NewVersionCommand prints build information.
func NewVersionCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of the meetcap worker.

The same document is served by a running worker at /version.`,
		Example: `  meetcap version
  meetcap version --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(versionOutput)
			if err != nil {
				return err
			}

			info := buildinfo.Get(ServiceName)
			out := deps.out()
			if done, err := encode(out, format, info); done || err != nil {
				return err
			}

			fmt.Fprintf(out, "meetcap version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
			return nil
		},
	}

	cmd.Flags().StringVarP(&versionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}
