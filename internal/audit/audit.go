// Package audit appends one SharePoint list item per upload attempt. It is
// best effort: failures are logged and never reach the caller.
package audit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/metrics"
)

const (
	StatusSuccess = "Success"
	StatusError   = "Error"

	logtimeLayout = "2006-01-02 15:04:05"
)

// Entry describes one post delivery attempt.
type Entry struct {
	PhotoCount int
	TotalBytes int64
	TargetTeam string
	Err        error
}

// Logger writes entries to the configured list.
type Logger struct {
	g       *graph.Client
	siteID  string
	listID  string
	source  string
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	email string
}

// New creates a logger. With an empty siteID or listID every Record is a
// no-op.
func New(g *graph.Client, siteID, listID, source string, m *metrics.Metrics, log *zap.Logger) *Logger {
	return &Logger{
		g:       g,
		siteID:  siteID,
		listID:  listID,
		source:  source,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Enabled reports whether a target list is configured.
func (l *Logger) Enabled() bool {
	return l != nil && l.siteID != "" && l.listID != ""
}

// Record appends e to the list.
func (l *Logger) Record(ctx context.Context, token string, e Entry) {
	if !l.Enabled() {
		return
	}
	_, err := l.g.CreateListItem(ctx, token, l.siteID, l.listID, l.fields(ctx, token, e))
	l.metrics.AuditEntry(err == nil)
	if err != nil {
		l.log.Warn("audit entry not written", zap.String("error", graph.Summarize(err)))
	}
}

func (l *Logger) fields(ctx context.Context, token string, e Entry) map[string]any {
	status, message := StatusSuccess, ""
	if e.Err != nil {
		status, message = StatusError, graph.Summarize(e.Err)
	}
	return map[string]any{
		"Title":        fmt.Sprintf("Upload by %s", l.userEmail(ctx, token)),
		"SourceUrl":    l.source,
		"Logtime":      l.now().Local().Format(logtimeLayout),
		"PhotoCount":   e.PhotoCount,
		"TotalSizeMB":  math.Round(float64(e.TotalBytes)/(1024*1024)*100) / 100,
		"TargetTeam":   e.TargetTeam,
		"Status":       status,
		"ErrorMessage": message,
	}
}

// userEmail resolves the signed-in user's address once per process.
func (l *Logger) userEmail(ctx context.Context, token string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.email != "" {
		return l.email
	}
	me, err := l.g.Me(ctx, token)
	if err != nil {
		l.log.Debug("resolve audit user", zap.Error(err))
		return "unknown"
	}
	l.email = me.Email()
	return l.email
}

// Forget drops the cached user, e.g. after sign-out.
func (l *Logger) Forget() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.email = ""
	l.mu.Unlock()
}
