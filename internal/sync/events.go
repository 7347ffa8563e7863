package sync

import (
	"context"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
)

// Queue change reasons.
const (
	ReasonSaved  = "saved"
	ReasonSynced = "synced"
	ReasonFailed = "failed"
)

// QueueChange is published on bus.KindQueueChanged whenever the queue
// content or a post's delivery state changes.
type QueueChange struct {
	Reason   string
	PostID   int64
	ClientID string
	Pending  int
	Err      string
}

// Progress is published on bus.KindSyncProgress before each image of a post
// is processed.
type Progress struct {
	PostID   int64
	ClientID string
	Current  int
	Total    int
}

// ProgressFunc receives (current, total) before each image is processed.
type ProgressFunc func(current, total int)

// OnQueueChanged calls listener for every queue change until the returned
// function is called. Listener calls happen on a dedicated goroutine, in
// publish order.
func (e *Engine) OnQueueChanged(listener func(QueueChange)) (unsubscribe func()) {
	ch, unsub := e.Bus.Subscribe(bus.KindQueueChanged, 64)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				if c, ok := evt.Payload.(QueueChange); ok {
					listener(c)
				}
			case <-stop:
				return
			}
		}
	}()

	var once gosync.Once
	return func() {
		once.Do(func() {
			unsub()
			close(stop)
		})
	}
}

func (e *Engine) queueChanged(ctx context.Context, c QueueChange) {
	n, err := e.DB.CountPosts(context.WithoutCancel(ctx))
	if err != nil {
		e.Logger.Warn("count queued posts", zap.Error(err))
	} else {
		c.Pending = n
		e.Metrics.QueueLength(n)
	}
	e.Bus.Emit(bus.KindQueueChanged, c)
}

// progressFor publishes progress events for post and forwards them to extra.
func (e *Engine) progressFor(postID int64, clientID string, extra ProgressFunc) ProgressFunc {
	return func(current, total int) {
		e.Bus.Emit(bus.KindSyncProgress, Progress{
			PostID:   postID,
			ClientID: clientID,
			Current:  current,
			Total:    total,
		})
		if extra != nil {
			extra(current, total)
		}
	}
}
