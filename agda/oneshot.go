package agda

import (
	"context"
	"sync"
)

// QueryResult はワンショットのリクエストの結果を表す
type QueryResult struct {
	Version   string     // バックエンドのバージョン
	Protocol  Protocol   // 使ったプロトコル
	Responses []Response // ハンドラに渡された順のレスポンス
}

// Query は接続してリクエストを1件送り、レスポンスを配送順に集めて切断する
func Query(ctx context.Context, ep Endpoint, req Request, opts *Options) (*QueryResult, error) {
	conn, err := Connect(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Destroy()

	result := &QueryResult{
		Version:  conn.Version(),
		Protocol: conn.Protocol(),
	}
	var mu sync.Mutex
	err = conn.SendRequest(ctx, req, func(_ context.Context, resp Response) ([]Request, error) {
		mu.Lock()
		result.Responses = append(result.Responses, resp)
		mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
