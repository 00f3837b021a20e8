package agda

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Run は1回のリクエストの送信を表す
// ハンドラには RunFromContext で渡される
type Run struct {
	ID       string    // 実行ID
	ParentID string    // 派生元の実行ID（ハンドラが返したリクエストの場合のみ）
	Command  string    // コマンド名
	Started  time.Time // 送信時刻
}

func newRun(req Request, parent *Run) *Run {
	r := &Run{
		ID:      uuid.NewString(),
		Command: commandName(req),
		Started: time.Now(),
	}
	if parent != nil {
		r.ParentID = parent.ID
	}
	return r
}

// Derived は派生したリクエストの実行かどうかを返す
func (r *Run) Derived() bool {
	return r.ParentID != ""
}

type runKey struct{}

func withRun(ctx context.Context, r *Run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

// RunFromContext はハンドラのコンテキストから実行中の Run を取り出す
func RunFromContext(ctx context.Context) (*Run, bool) {
	r, ok := ctx.Value(runKey{}).(*Run)
	return r, ok
}

func commandName(req Request) string {
	if req.Command == nil {
		return ""
	}
	return req.Command.Name()
}
