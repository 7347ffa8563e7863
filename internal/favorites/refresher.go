package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/status"
	"github.com/matheus3301/tpost/internal/store"
)

// TokenSource yields a bearer token for the signed-in account.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Gate tells whether remote calls are possible and reports transitions.
type Gate interface {
	CanSyncNow() bool
	Subscribe(bufSize int) (<-chan connectivity.Change, func())
}

// TeamSource reads team data from the remote side.
type TeamSource interface {
	ListChannels(ctx context.Context, token, teamID string) ([]graph.Channel, error)
	ListMembers(ctx context.Context, token, teamID string) ([]graph.Member, error)
	RootSiteID(ctx context.Context, token, teamID string) (string, error)
}

// FolderLister lists the subfolders of a drive path.
type FolderLister interface {
	ListSubFolders(ctx context.Context, token, siteID, path string) ([]drive.SubFolder, error)
}

// RefreshResult counts what one Refresh pass did.
type RefreshResult struct {
	Teams   int
	Updated int
	Failed  int
}

// Refresher fills missing cache fields of favorite teams. It runs when
// connectivity becomes ONLINE and when the favorite id set changes. Its own
// cache writes publish favorites.cached, which it does not listen to.
type Refresher struct {
	db      *store.DB
	bus     *bus.Bus
	tokens  TokenSource
	teams   TeamSource
	folders FolderLister
	gate    Gate
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher. folders may be nil, in which case
// subfolders are not cached.
func NewRefresher(db *store.DB, b *bus.Bus, tokens TokenSource, teams TeamSource, folders FolderLister, gate Gate, log *zap.Logger) *Refresher {
	return &Refresher{
		db:      db,
		bus:     b,
		tokens:  tokens,
		teams:   teams,
		folders: folders,
		gate:    gate,
		log:     log,
	}
}

// Start begins listening for triggers. It refreshes once right away when
// already online.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	sets, unsubSets := r.bus.Subscribe(bus.KindFavoritesSetChanged, 16)
	changes, unsubChanges := r.gate.Subscribe(8)

	go func() {
		defer close(r.done)
		defer unsubSets()
		defer unsubChanges()

		if r.gate.CanSyncNow() {
			r.run(ctx, "startup")
		}
		for {
			select {
			case <-sets:
				if r.gate.CanSyncNow() {
					r.run(ctx, "favorites")
				}
			case change, ok := <-changes:
				if !ok {
					return
				}
				if change.To == status.Online {
					r.run(ctx, "online")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the refresher and waits for a running pass.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
}

func (r *Refresher) run(ctx context.Context, trigger string) {
	res, err := r.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("favorites refresh failed", zap.String("trigger", trigger), zap.Error(err))
		}
		return
	}
	if res.Updated > 0 || res.Failed > 0 {
		r.log.Info("favorites refreshed",
			zap.String("trigger", trigger),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
		)
	}
}

// Refresh fetches every unfetched cache field of every favorite. Fields
// already fetched, even when empty, are left alone. A failing team does not
// stop the others.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RefreshResult
	favs, err := r.db.ListFavorites(ctx)
	if err != nil {
		return res, fmt.Errorf("list favorites: %w", err)
	}
	res.Teams = len(favs)

	var pending []store.FavoriteTeam
	for _, f := range favs {
		if needsFetch(&f, r.folders != nil) {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return res, nil
	}

	token, err := r.tokens.Token(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire token: %w", err)
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		updated, err := r.refreshTeam(ctx, token, &pending[i])
		if err != nil {
			res.Failed++
			r.log.Warn("refresh favorite",
				zap.String("team_id", pending[i].ID),
				zap.String("error", graph.Summarize(err)),
			)
		}
		if updated {
			res.Updated++
		}
	}
	return res, nil
}

func needsFetch(f *store.FavoriteTeam, withFolders bool) bool {
	if f.Channels == nil || f.Members == nil {
		return true
	}
	return withFolders && (f.ChannelSubFolders == nil || len(missingSubFolders(f.ChannelSubFolders, f.Channels)) > 0)
}

// missingSubFolders returns the channels without a cached subfolder list.
// Browsing can cache a single channel before the refresher reaches the rest.
func missingSubFolders(cached map[string][]store.SubFolder, channels []store.Channel) []store.Channel {
	var missing []store.Channel
	for _, c := range channels {
		if _, ok := cached[c.ID]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// refreshTeam fetches what is missing and writes it back. It reports
// whether anything was persisted; fields that failed stay unfetched.
func (r *Refresher) refreshTeam(ctx context.Context, token string, f *store.FavoriteTeam) (bool, error) {
	var (
		fetched store.FavoriteTeam
		errs    []error
	)

	channels := f.Channels
	if channels == nil {
		list, err := r.teams.ListChannels(ctx, token, f.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("channels: %w", err))
		} else {
			channels = make([]store.Channel, len(list))
			for i, c := range list {
				channels[i] = store.Channel{ID: c.ID, DisplayName: c.DisplayName}
			}
			fetched.Channels = channels
		}
	}

	if f.Members == nil {
		list, err := r.teams.ListMembers(ctx, token, f.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("members: %w", err))
		} else {
			fetched.Members = make([]store.Member, len(list))
			for i, m := range list {
				fetched.Members[i] = store.Member{ID: m.ID, DisplayName: m.DisplayName}
			}
		}
	}

	if r.folders != nil && channels != nil {
		if missing := missingSubFolders(f.ChannelSubFolders, channels); len(missing) > 0 {
			folders, err := r.subFolders(ctx, token, f.ID, missing)
			if err != nil {
				errs = append(errs, fmt.Errorf("subfolders: %w", err))
			} else {
				fetched.ChannelSubFolders = folders
			}
		} else if f.ChannelSubFolders == nil {
			fetched.ChannelSubFolders = map[string][]store.SubFolder{}
		}
	}

	if fetched.Channels == nil && fetched.Members == nil && fetched.ChannelSubFolders == nil {
		return false, errors.Join(errs...)
	}

	written, err := r.merge(ctx, f.ID, fetched)
	if err != nil {
		errs = append(errs, err)
	}
	return written, errors.Join(errs...)
}

func (r *Refresher) subFolders(ctx context.Context, token, teamID string, channels []store.Channel) (map[string][]store.SubFolder, error) {
	siteID, err := r.teams.RootSiteID(ctx, token, teamID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]store.SubFolder, len(channels))
	for _, c := range channels {
		list, err := r.folders.ListSubFolders(ctx, token, siteID, drive.FolderPathFor(c.DisplayName))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", c.ID, err)
		}
		folders := make([]store.SubFolder, len(list))
		for i, sf := range list {
			folders[i] = store.SubFolder{ID: sf.ID, Name: sf.Name}
		}
		out[c.ID] = folders
	}
	return out, nil
}

// merge re-reads the record so a concurrent unpin or update is not
// overwritten, then fills only fields and channel subfolders that are still
// unfetched.
func (r *Refresher) merge(ctx context.Context, teamID string, fetched store.FavoriteTeam) (bool, error) {
	cur, err := r.db.GetFavorite(ctx, teamID)
	if err != nil {
		return false, fmt.Errorf("reload favorite: %w", err)
	}
	if cur == nil {
		return false, nil
	}
	if cur.Channels == nil {
		cur.Channels = fetched.Channels
	}
	if cur.Members == nil {
		cur.Members = fetched.Members
	}
	if fetched.ChannelSubFolders != nil && cur.ChannelSubFolders == nil {
		cur.ChannelSubFolders = make(map[string][]store.SubFolder, len(fetched.ChannelSubFolders))
	}
	for id, folders := range fetched.ChannelSubFolders {
		if _, ok := cur.ChannelSubFolders[id]; !ok {
			cur.ChannelSubFolders[id] = folders
		}
	}
	if err := r.db.PutFavorite(ctx, cur); err != nil {
		return false, fmt.Errorf("save favorite: %w", err)
	}
	r.bus.Emit(bus.KindFavoritesCached, Cached{TeamID: teamID})
	return true, nil
}
