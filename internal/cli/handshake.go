package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHandshakeCmd は接続してバックエンドのバージョンを表示する
func NewHandshakeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Connect to the first reachable backend and print its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			conn, err := rt.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Destroy()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "endpoint: %s\n", conn.Endpoint())
			fmt.Fprintf(out, "protocol: %s\n", conn.Protocol())
			fmt.Fprintf(out, "version:  %s\n", conn.Version())
			return nil
		},
	}
}
