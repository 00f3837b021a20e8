package agda

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ConnectAny は接続先を順に試し、最初に接続できたものを返す
// 全て失敗した場合はそれぞれのエラーをまとめて返す
func ConnectAny(ctx context.Context, endpoints []Endpoint, opts *Options) (*Connection, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	logger := opts.logger()
	var errs []error
	for i, ep := range endpoints {
		conn, err := Connect(ctx, ep, opts)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
		if i+1 < len(endpoints) {
			logger.Info("trying next endpoint",
				zap.Stringer("failed", ep),
				zap.Stringer("next", endpoints[i+1]),
				zap.Error(err))
		}
	}
	return nil, errors.Join(errs...)
}

// ParseEndpoints は文字列の一覧を接続先の一覧に変換する
func ParseEndpoints(raw []string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(raw))
	for _, r := range raw {
		endpoints = append(endpoints, ParseEndpoint(r))
	}
	return endpoints
}
