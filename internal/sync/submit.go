package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/store"
)

// CaptureRequest is one user capture: a target channel, optional text,
// images and mentions.
type CaptureRequest struct {
	TeamID             string
	ChannelID          string
	ChannelDisplayName string
	Text               string
	SubFolder          string
	Files              []store.File
	Mentions           []store.Member
	// Progress, if set, is called before each image is processed during the
	// immediate delivery attempt.
	Progress ProgressFunc
}

func (r CaptureRequest) postable() bool {
	if r.TeamID == "" || r.ChannelID == "" {
		return false
	}
	return strings.TrimSpace(r.Text) != "" || len(r.Files) > 0
}

// Outcome of a submission.
type Outcome string

const (
	// OutcomeNone means the capture was not postable and nothing was stored.
	OutcomeNone   Outcome = ""
	OutcomeQueued Outcome = "queued"
	OutcomeSent   Outcome = "sent"
)

// SubmitOutcome reports what happened to a capture. SyncErr is set when an
// immediate delivery attempt failed and the post stays queued.
type SubmitOutcome struct {
	Outcome  Outcome
	PostID   int64
	ClientID string
	SyncErr  error
}

// Submit stores the capture in the queue and, when connectivity allows,
// delivers it right away. A capture without a channel or without any
// content yields a zero outcome and no error. Only a failure to store the
// capture is returned as an error; a failed delivery leaves the post queued
// and is reported in SubmitOutcome.SyncErr.
//
// Delivery runs detached from ctx. If it has not finished shortly before
// ctx's deadline, Submit reports the post as queued and delivery carries on
// in the background.
func (e *Engine) Submit(ctx context.Context, req CaptureRequest) (SubmitOutcome, error) {
	post, err := e.SaveOfflinePost(ctx, req)
	if errors.Is(err, ErrNothingToPost) {
		return SubmitOutcome{}, nil
	}
	if err != nil {
		return SubmitOutcome{}, err
	}

	out := SubmitOutcome{Outcome: OutcomeQueued, PostID: post.ID, ClientID: post.ClientID}
	if !e.Gate.CanSyncNow() {
		return out, nil
	}

	result := make(chan SubmitOutcome, 1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		dctx, cancel := e.detach(ctx)
		defer cancel()
		result <- e.deliverSaved(dctx, out, req.Progress)
	}()

	wait, stop := replyWindow(ctx)
	defer stop()
	select {
	case res := <-result:
		return res, nil
	case <-wait:
	case <-ctx.Done():
	}
	e.Logger.Info("delivery continues in background",
		zap.Int64("post_id", out.PostID),
		zap.String("client_id", out.ClientID),
	)
	return out, nil
}

// replyWindow fires shortly before ctx's deadline so the caller still gets
// an answer. Without a deadline it never fires.
func replyWindow(ctx context.Context) (<-chan time.Time, func()) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, func() {}
	}
	t := time.NewTimer(time.Until(deadline) * 4 / 5)
	return t.C, func() { t.Stop() }
}

// deliverSaved makes the immediate delivery attempt for a freshly saved post.
func (e *Engine) deliverSaved(ctx context.Context, out SubmitOutcome, progress ProgressFunc) SubmitOutcome {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	current, err := e.DB.GetPost(ctx, out.PostID)
	if err != nil {
		out.SyncErr = fmt.Errorf("reload post: %w", err)
		return out
	}
	if current == nil {
		// A concurrent drain delivered it first.
		out.Outcome = OutcomeSent
		return out
	}
	if err := e.syncPost(ctx, current, e.progressFor(current.ID, current.ClientID, progress)); err != nil {
		out.SyncErr = err
		return out
	}
	out.Outcome = OutcomeSent
	return out
}

// SaveOfflinePost atomically stores the post and its images and returns the
// stored post. It returns ErrNothingToPost for a capture that cannot be
// posted.
func (e *Engine) SaveOfflinePost(ctx context.Context, req CaptureRequest) (*store.Post, error) {
	if !req.postable() {
		return nil, ErrNothingToPost
	}

	post := &store.Post{
		ClientID:           uuid.NewString(),
		TeamID:             req.TeamID,
		ChannelID:          req.ChannelID,
		ChannelDisplayName: req.ChannelDisplayName,
		Text:               req.Text,
		ImageURLs:          []string{},
		Mentions:           req.Mentions,
		SubFolder:          req.SubFolder,
		Timestamp:          e.now().UnixMilli(),
	}
	err := e.DB.WithTx(ctx, func(tx *store.Tx) error {
		id, err := tx.AddPost(ctx, post)
		if err != nil {
			return err
		}
		post.ID = id
		for _, f := range req.Files {
			if _, err := tx.AddImage(ctx, id, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save post: %w", err)
	}

	e.Metrics.PostSaved()
	e.Logger.Info("post queued",
		zap.Int64("post_id", post.ID),
		zap.String("client_id", post.ClientID),
		zap.Int("images", len(req.Files)),
	)
	e.queueChanged(ctx, QueueChange{Reason: ReasonSaved, PostID: post.ID, ClientID: post.ClientID})
	return post, nil
}
