package sync

import (
	"context"
	"errors"
	"time"

	"github.com/iudanet/scorekeeper/internal/client/connectivity"
	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// FeedSubscriber источник push-ленты удаленных изменений
type FeedSubscriber interface {
	Subscribe(ctx context.Context, handler func([]api.Delta)) error
}

// RunFeed держит подписку на ленту изменений и передает их в движок.
// Обрыв соединения переподключается с backoff; отказ сервера завершает RunFeed.
func (e *Engine) RunFeed(ctx context.Context, feed FeedSubscriber) error {
	failures := 0
	for {
		if !e.conn.Online() {
			if err := e.waitOnline(ctx); err != nil {
				return nil
			}
		}

		started := time.Now()
		err := feed.Subscribe(ctx, e.ApplyFeed)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, syncerr.ErrRejected) {
			e.logger.Error("Change feed rejected", "error", err)
			return err
		}

		// Соединение продержалось дольше максимальной задержки - считаем его успешным
		if time.Since(started) > e.cfg.BackoffMax {
			failures = 0
		}
		failures++
		delay := BackoffDelay(e.cfg.BackoffBase, e.cfg.BackoffMax, failures)
		e.logger.Info("Change feed disconnected, reconnecting", "error", err, "delay", delay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// waitOnline ждет события went_online
func (e *Engine) waitOnline(ctx context.Context) error {
	online := make(chan struct{}, 1)
	unsubscribe := e.conn.Subscribe(func(ev connectivity.Event) {
		if ev == connectivity.WentOnline {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if e.conn.Online() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-online:
		return nil
	}
}
