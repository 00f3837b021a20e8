package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y-oga-819/go-agda-connection/agda"
	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

// NewProbeCmd はTCPで待ち受けるALSに接続できるかを確認する
func NewProbeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <lsp://host:port>",
		Short: "Check that a language server accepts TCP connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := agda.ParseEndpoint(args[0])
			if ep.Launch != agda.TCP {
				return fmt.Errorf("probe needs an lsp://host:port endpoint, got %q", args[0])
			}

			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := transport.Probe(cmd.Context(), ep.Addr, rt.cfg.ProbeTimeout); err != nil {
				rt.metrics.RecordTransportError(agda.ALS.String(), "probe")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", ep)
			return nil
		},
	}
}
