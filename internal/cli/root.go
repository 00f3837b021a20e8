package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/y-oga-819/go-agda-connection/agda"
	"github.com/y-oga-819/go-agda-connection/internal/config"
	"github.com/y-oga-819/go-agda-connection/internal/logging"
	"github.com/y-oga-819/go-agda-connection/internal/observability"
	"github.com/y-oga-819/go-agda-connection/internal/version"
)

// Options はCLI全体のオプション
type Options struct {
	ConfigPath string
	Endpoints  []string // 指定があれば設定ファイルの endpoints より優先する
}

// NewRootCmd はコマンドツリーを作る
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "agdaconn",
		Short:         "Talk to agda --interaction or the Agda Language Server",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: ./agdaconn.yaml or configs/agdaconn.yaml)")
	cmd.PersistentFlags().StringArrayVarP(&opts.Endpoints, "endpoint", "e", nil, "Backend path or lsp://host:port (repeatable, tried in order)")

	cmd.AddCommand(NewProbeCmd(opts))
	cmd.AddCommand(NewHandshakeCmd(opts))
	cmd.AddCommand(NewLoadCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute はルートコマンドを実行する
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		title, body := agda.Describe(err)
		fmt.Fprintln(os.Stderr, title)
		if body != "" && body != title {
			fmt.Fprintln(os.Stderr, body)
		}
		os.Exit(1)
	}
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(opts.Endpoints) > 0 {
		cfg.Endpoints = opts.Endpoints
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// runtime はサブコマンドが共有する設定・ロガー・メトリクス
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	endpoints []agda.Endpoint
	server    *http.Server
}

func newRuntime(opts *Options) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.NewMetrics(),
		endpoints: resolveEndpoints(cfg),
	}

	if cfg.Metrics.Addr != "" {
		if err := rt.serveMetrics(cfg.Metrics.Addr); err != nil {
			logger.Sync() //nolint:errcheck // best-effort
			return nil, err
		}
	}
	return rt, nil
}

// resolveEndpoints は設定の文字列を接続先にし、protocol の指定を反映する
func resolveEndpoints(cfg *config.Config) []agda.Endpoint {
	endpoints := agda.ParseEndpoints(cfg.Endpoints)
	switch strings.ToLower(cfg.Protocol) {
	case config.ProtocolEmacs:
		for i := range endpoints {
			endpoints[i] = endpoints[i].WithProtocol(agda.Emacs)
		}
	case config.ProtocolALS:
		for i := range endpoints {
			endpoints[i] = endpoints[i].WithProtocol(agda.ALS)
		}
	}
	return endpoints
}

func (rt *runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))
	rt.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	rt.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// agdaOptions は接続のオプションを作る
func (rt *runtime) agdaOptions() *agda.Options {
	return &agda.Options{
		Args:         rt.cfg.Args,
		Env:          rt.cfg.EnvMap(),
		ProbeTimeout: rt.cfg.ProbeTimeout,
		Logger:       rt.logger,
		Metrics:      rt.metrics,
	}
}

func (rt *runtime) connect(ctx context.Context) (*agda.Connection, error) {
	return agda.ConnectAny(ctx, rt.endpoints, rt.agdaOptions())
}

func (rt *runtime) Close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		rt.server.Shutdown(ctx) //nolint:errcheck // best-effort
		cancel()
	}
	rt.logger.Sync() //nolint:errcheck // best-effort
}
