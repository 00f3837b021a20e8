package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はYAMLと環境変数から読み込む設定
type Config struct {
	Endpoints    []string      `mapstructure:"endpoints"`     // 順に試す接続先（パスまたは lsp://host:port）
	Protocol     string        `mapstructure:"protocol"`      // auto, emacs, als
	Args         []string      `mapstructure:"args"`          // バックエンドに渡す追加の引数
	Env          []string      `mapstructure:"env"`           // バックエンドに渡す追加の環境変数（KEY=VALUE）
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"` // TCP接続のタイムアウト
	Logging      LoggingConfig `mapstructure:"logging"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig はロガーの設定
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// MetricsConfig は /metrics の公開設定。Addr が空なら公開しない
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Protocol の値
const (
	ProtocolAuto  = "auto"
	ProtocolEmacs = "emacs"
	ProtocolALS   = "als"
)

// Load は path の設定ファイルを読み込む。path が空ならカレントと configs/ の agdaconn.yaml を探す
// 環境変数が値を上書きする（接頭辞 AGDACONN_、ドットはアンダースコア）
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGDACONN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("agdaconn")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 探索で見つからなければ既定値のまま使う
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoints", []string{"agda"})
	v.SetDefault("protocol", ProtocolAuto)
	v.SetDefault("args", []string{})
	v.SetDefault("probe_timeout", time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.addr", "")
}

// Validate は設定値を検査する
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint must be configured")
	}
	for i, ep := range c.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("endpoints[%d] is empty", i)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "", ProtocolAuto, ProtocolEmacs, ProtocolALS:
	default:
		return fmt.Errorf("protocol must be one of auto, emacs, als (got %q)", c.Protocol)
	}

	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
	}

	if c.ProbeTimeout < 0 {
		return errors.New("probe_timeout must be >= 0")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}

	return nil
}

// EnvMap は Env を変数名から値への対応にする
// viper はマップのキーを小文字にするので、設定ファイルでは KEY=VALUE の並びで持つ
func (c *Config) EnvMap() map[string]string {
	if len(c.Env) == 0 {
		return nil
	}
	env := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
