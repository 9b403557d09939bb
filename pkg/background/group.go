// Package background runs fire-and-forget side effects (persistence, alert delivery)
// off the decision path.
//
// 실패는 로그로만 남고 호출자에게 전파되지 않는다. Wait는 종료 시점과 테스트에서만 사용한다.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/aegis-risk/pkg/logger"
)

// DefaultTimeout 개별 작업 기본 타임아웃
const DefaultTimeout = 5 * time.Second

// Group tracks in-flight background tasks
type Group struct {
	wg      sync.WaitGroup
	log     *logger.Logger
	timeout time.Duration

	// OnError is called after a task fails (metrics hook, optional)
	OnError func(name string, err error)
}

// New creates a group; timeout <= 0 uses DefaultTimeout
func New(log *logger.Logger, timeout time.Duration) *Group {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{log: log, timeout: timeout}
}

// Go runs fn in its own goroutine with a fresh timeout context
// 호출자의 ctx가 취소되어도 이미 결정된 기록은 끝까지 저장한다
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			g.log.WithError(err).WithField("task", name).Warn("background task failed")
			if g.OnError != nil {
				g.OnError(name, err)
			}
		}
	}()
}

// Wait blocks until every started task returns
func (g *Group) Wait() {
	g.wg.Wait()
}
