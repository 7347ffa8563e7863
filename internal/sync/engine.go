// Package sync drains the offline post queue: it stores captures locally,
// uploads their images, posts the channel message and removes the post once
// the remote side accepted it.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/audit"
	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/compose"
	"github.com/matheus3301/tpost/internal/config"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/metrics"
	"github.com/matheus3301/tpost/internal/status"
	"github.com/matheus3301/tpost/internal/store"
)

// ErrNothingToPost is returned by SaveOfflinePost when the capture has no
// target channel or carries neither text nor images.
var ErrNothingToPost = errors.New("nothing to post")

// TokenSource yields a bearer token for the signed-in account.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SiteResolver maps a team to the id of its root site.
type SiteResolver interface {
	RootSiteID(ctx context.Context, token, teamID string) (string, error)
}

// Uploader stores files in a site's document library.
type Uploader interface {
	EnsureFolder(ctx context.Context, token, siteID, path string) error
	Upload(ctx context.Context, token, siteID string, f drive.File, path string) (string, error)
}

// Poster sends the channel message.
type Poster interface {
	Post(ctx context.Context, token string, req compose.Request) error
}

// Auditor records one entry per delivery attempt.
type Auditor interface {
	Record(ctx context.Context, token string, e audit.Entry)
}

// TeamNamer resolves a display name for audit entries.
type TeamNamer interface {
	TeamName(ctx context.Context, teamID string) string
}

// Gate tells whether a drain may run and reports connectivity transitions.
type Gate interface {
	CanSyncNow() bool
	Subscribe(bufSize int) (<-chan connectivity.Change, func())
}

// Deps are the collaborators of an Engine. Audit and Teams are optional.
type Deps struct {
	DB       *store.DB
	Bus      *bus.Bus
	Tokens   TokenSource
	Sites    SiteResolver
	Drive    Uploader
	Composer Poster
	Audit    Auditor
	Teams    TeamNamer
	Gate     Gate
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Options tune delivery.
type Options struct {
	// Mode is config.ModeDrive (upload, then link) or config.ModeHosted
	// (inline images in the message).
	Mode string
	// RetryInterval re-drains a non-empty queue while online. Zero disables
	// periodic retries.
	RetryInterval time.Duration
	// DeliveryTimeout bounds one background delivery or manual drain, which
	// run detached from the caller's deadline. Defaults to ten minutes.
	DeliveryTimeout time.Duration
}

const defaultDeliveryTimeout = 10 * time.Minute

// Engine owns delivery of queued posts. At most one post is in flight at a
// time.
type Engine struct {
	Deps
	opts        Options
	checkpoints *Checkpoints
	now         func() time.Time

	syncMu gosync.Mutex

	// life outlives any single request and ends with Stop.
	life     context.Context
	endLife  context.CancelFunc
	inflight gosync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine.
func NewEngine(deps Deps, opts Options) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeDrive
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	life, endLife := context.WithCancel(context.Background())
	return &Engine{
		Deps:        deps,
		opts:        opts,
		checkpoints: NewCheckpoints(deps.DB),
		now:         time.Now,
		life:        life,
		endLife:     endLife,
	}
}

// Start drains the queue whenever connectivity becomes ONLINE, once right
// away if it already is, and every RetryInterval while posts remain.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	changes, unsub := e.Gate.Subscribe(8)

	go func() {
		defer close(e.done)
		defer unsub()
		e.loop(ctx, changes)
	}()
}

// Stop stops the engine and waits for an in-progress drain and for any
// background delivery to return.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
	}
	e.endLife()
	e.inflight.Wait()
}

// detach derives a context that keeps ctx's values but not its deadline. It
// ends after DeliveryTimeout or when the engine stops.
func (e *Engine) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.DeliveryTimeout)
	stop := context.AfterFunc(e.life, cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}

// SyncNow runs a manual drain. The drain is not cut short when ctx ends, so
// a caller that gives up does not leave a post half sent.
func (e *Engine) SyncNow(ctx context.Context) (DrainResult, error) {
	dctx, cancel := e.detach(ctx)
	defer cancel()
	return e.SyncOfflinePosts(dctx)
}

func (e *Engine) loop(ctx context.Context, changes <-chan connectivity.Change) {
	var tick <-chan time.Time
	if e.opts.RetryInterval > 0 {
		ticker := time.NewTicker(e.opts.RetryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if e.Gate.CanSyncNow() {
		e.drain(ctx, "startup")
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.To == status.Online {
				e.drain(ctx, "online")
			}
		case <-tick:
			if !e.Gate.CanSyncNow() {
				continue
			}
			if n, err := e.DB.CountPosts(ctx); err == nil && n > 0 {
				e.drain(ctx, "retry")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) drain(ctx context.Context, trigger string) {
	res, err := e.SyncOfflinePosts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.Logger.Error("drain failed", zap.String("trigger", trigger), zap.Error(err))
		}
		return
	}
	if res.Attempted > 0 {
		e.Logger.Info("queue drained",
			zap.String("trigger", trigger),
			zap.Int("synced", res.Synced),
			zap.Int("failed", res.Failed),
		)
	}
}

// LastDrain returns the most recent drain checkpoint, or nil before the first
// drain.
func (e *Engine) LastDrain(ctx context.Context) (*DrainRecord, error) {
	return e.checkpoints.Last(ctx)
}
