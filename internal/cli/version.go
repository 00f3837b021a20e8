package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y-oga-819/go-agda-connection/internal/version"
)

// NewVersionCmd はバージョンを表示する
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show agdaconn version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Name, version.Full())
		},
	}
}
