package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/audit"
	"github.com/matheus3301/tpost/internal/compose"
	"github.com/matheus3301/tpost/internal/config"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/store"
)

// DrainResult counts the posts handled by one SyncOfflinePosts call.
type DrainResult struct {
	Attempted int
	Synced    int
	Failed    int
}

// SyncPost delivers one queued post and removes it from the queue on
// success. progress may be nil.
func (e *Engine) SyncPost(ctx context.Context, post *store.Post, progress ProgressFunc) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.syncPost(ctx, post, e.progressFor(post.ID, post.ClientID, progress))
}

// SyncOfflinePosts attempts every queued post once, oldest first. A failing
// post is logged and left queued; the remaining posts are still attempted.
func (e *Engine) SyncOfflinePosts(ctx context.Context) (DrainResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	var res DrainResult
	posts, err := e.DB.ListPosts(ctx)
	if err != nil {
		return res, fmt.Errorf("list posts: %w", err)
	}

	var lastErr, interrupted error
	for i := range posts {
		if err := ctx.Err(); err != nil {
			lastErr, interrupted = err, err
			break
		}
		// The snapshot may be stale: a post can be delivered by Submit
		// between listing and this point.
		post, err := e.DB.GetPost(ctx, posts[i].ID)
		if err != nil {
			e.Logger.Error("reload post", zap.Int64("post_id", posts[i].ID), zap.Error(err))
			res.Failed++
			lastErr = err
			continue
		}
		if post == nil {
			continue
		}
		res.Attempted++
		if err := e.syncPost(ctx, post, e.progressFor(post.ID, post.ClientID, nil)); err != nil {
			res.Failed++
			lastErr = err
			continue
		}
		res.Synced++
	}

	rec := DrainRecord{
		At:        e.now(),
		Attempted: res.Attempted,
		Synced:    res.Synced,
		Failed:    res.Failed,
	}
	if lastErr != nil {
		rec.LastError = graph.Summarize(lastErr)
	}
	// An interrupted drain is still recorded.
	if err := e.checkpoints.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.Logger.Warn("record drain", zap.Error(err))
	}
	return res, interrupted
}

func (e *Engine) syncPost(ctx context.Context, post *store.Post, progress ProgressFunc) error {
	images, err := e.DB.ListImages(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	token, err := e.Tokens.Token(ctx)
	if err != nil {
		err = fmt.Errorf("acquire token: %w", err)
		e.failed(ctx, post, err)
		return err
	}

	err = e.send(ctx, token, post, images, progress)
	e.audit(ctx, token, post, images, err)
	if err != nil {
		e.failed(ctx, post, err)
		return err
	}

	err = e.DB.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteImages(ctx, post.ID); err != nil {
			return err
		}
		return tx.DeletePost(ctx, post.ID)
	})
	if err != nil {
		// The message is out but the post stays queued; a later drain sends it again.
		e.Logger.Error("remove delivered post",
			zap.Int64("post_id", post.ID),
			zap.String("client_id", post.ClientID),
			zap.Error(err),
		)
		return fmt.Errorf("remove delivered post: %w", err)
	}

	e.Metrics.PostSynced()
	e.Logger.Info("post delivered",
		zap.Int64("post_id", post.ID),
		zap.String("client_id", post.ClientID),
		zap.Int("images", len(images)),
	)
	e.queueChanged(ctx, QueueChange{Reason: ReasonSynced, PostID: post.ID, ClientID: post.ClientID})
	return nil
}

func (e *Engine) send(ctx context.Context, token string, post *store.Post, images []store.Image, progress ProgressFunc) error {
	req := compose.Request{
		TeamID:    post.TeamID,
		ChannelID: post.ChannelID,
		Text:      post.Text,
		Mentions:  mentions(post.Mentions),
	}
	total := len(images)

	if e.opts.Mode == config.ModeHosted {
		for i, img := range images {
			progress(i+1, total)
			req.Files = append(req.Files, compose.File{Name: img.Name, ContentType: img.MimeType, Data: img.Data})
		}
		return e.Composer.Post(ctx, token, req)
	}

	if total == 0 {
		req.ImageURLs = post.ImageURLs
		return e.Composer.Post(ctx, token, req)
	}

	siteID, err := e.Sites.RootSiteID(ctx, token, post.TeamID)
	if err != nil {
		return fmt.Errorf("resolve team site: %w", err)
	}
	folder := drive.SubFolderPath(post.ChannelDisplayName, post.SubFolder)
	if err := e.Drive.EnsureFolder(ctx, token, siteID, folder); err != nil {
		return fmt.Errorf("prepare folder %q: %w", folder, err)
	}

	for i, img := range images {
		progress(i+1, total)
		u, err := e.Drive.Upload(ctx, token, siteID, drive.File{Name: img.Name, ContentType: img.MimeType, Data: img.Data}, folder)
		if err != nil {
			return fmt.Errorf("upload %q: %w", img.Name, err)
		}
		req.ImageURLs = append(req.ImageURLs, u)
		req.Files = append(req.Files, compose.File{Name: img.Name, ContentType: img.MimeType})
	}
	return e.Composer.Post(ctx, token, req)
}

func (e *Engine) failed(ctx context.Context, post *store.Post, err error) {
	e.Metrics.PostFailed()
	e.Logger.Error("post delivery failed",
		zap.Int64("post_id", post.ID),
		zap.String("client_id", post.ClientID),
		zap.String("error", graph.Summarize(err)),
	)
	e.queueChanged(ctx, QueueChange{
		Reason:   ReasonFailed,
		PostID:   post.ID,
		ClientID: post.ClientID,
		Err:      graph.Summarize(err),
	})
}

func (e *Engine) audit(ctx context.Context, token string, post *store.Post, images []store.Image, err error) {
	if e.Audit == nil {
		return
	}
	var size int64
	for _, img := range images {
		size += int64(len(img.Data))
	}
	team := post.TeamID
	if e.Teams != nil {
		if name := e.Teams.TeamName(ctx, post.TeamID); name != "" {
			team = name
		}
	}
	e.Audit.Record(ctx, token, audit.Entry{
		PhotoCount: len(images),
		TotalBytes: size,
		TargetTeam: team,
		Err:        err,
	})
}

func mentions(members []store.Member) []compose.Mention {
	out := make([]compose.Mention, 0, len(members))
	for _, m := range members {
		out = append(out, compose.Mention{ID: m.ID, DisplayName: m.DisplayName})
	}
	return out
}
