package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowd-ai/knowd/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Printf("knowd version %s\n", version.Version)
		},
	}
}
