package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/y-oga-819/go-agda-connection/agda"
)

type loadOptions struct {
	refreshAfterSolve bool
}

// NewLoadCmd はファイルを読み込み、レスポンスを配送順に表示する
func NewLoadCmd(opts *Options) *cobra.Command {
	lo := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load an Agda file and print the responses in delivery order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

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

			req := agda.Request{
				Context: agda.Context{File: file, Level: agda.LevelNonInteractive},
				Command: agda.Load{},
			}
			return conn.SendRequest(cmd.Context(), req, lo.handler(cmd, req.Context))
		},
	}

	cmd.Flags().BoolVar(&lo.refreshAfterSolve, "refresh-after-solve", false, "Request the goal list again after goals were solved")
	return cmd
}

func (lo *loadOptions) handler(cmd *cobra.Command, reqCtx agda.Context) agda.Handler {
	var mu sync.Mutex
	out := cmd.OutOrStdout()

	return func(ctx context.Context, resp agda.Response) ([]agda.Request, error) {
		mu.Lock()
		defer mu.Unlock()

		if err := render(out, resp); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}

		if solved, ok := resp.(agda.SolveAllResult); ok && lo.refreshAfterSolve && len(solved.Solutions) > 0 {
			return []agda.Request{{Context: reqCtx, Command: agda.ShowGoals{}}}, nil
		}
		return nil, nil
	}
}
