package favorites

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/store"
)

// Source tells where catalog data came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// ErrNotCached is returned offline for data that was never cached.
var ErrNotCached = errors.New("not available offline")

// Team is a browsable team.
type Team struct {
	ID          string
	DisplayName string
	Favorite    bool
}

// Directory is the remote side of the catalog.
type Directory interface {
	TeamSource
	ListJoinedTeams(ctx context.Context, token string) ([]graph.Team, error)
}

// Catalog serves teams, channels, members and subfolders from the remote
// side when online and from the favorites cache otherwise. Fresh remote
// lists of a favorite are written through to its cache.
type Catalog struct {
	svc     *Service
	remote  Directory
	folders FolderLister
	tokens  TokenSource
	gate    interface{ CanSyncNow() bool }
	log     *zap.Logger

	mu    sync.Mutex
	names map[string]string
}

// NewCatalog creates a catalog.
func NewCatalog(svc *Service, remote Directory, folders FolderLister, tokens TokenSource, gate interface{ CanSyncNow() bool }, log *zap.Logger) *Catalog {
	return &Catalog{
		svc:     svc,
		remote:  remote,
		folders: folders,
		tokens:  tokens,
		gate:    gate,
		log:     log,
		names:   map[string]string{},
	}
}

// online returns a token when remote calls should be tried.
func (c *Catalog) online(ctx context.Context) (string, bool) {
	if !c.gate.CanSyncNow() {
		return "", false
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.log.Warn("catalog token", zap.Error(err))
		return "", false
	}
	return token, true
}

// Teams lists joined teams with favorites first, each group sorted by
// name. Offline it lists the favorites.
func (c *Catalog) Teams(ctx context.Context) ([]Team, Source, error) {
	favs, err := c.svc.List(ctx)
	if err != nil {
		return nil, "", err
	}
	pinned := make(map[string]bool, len(favs))
	for _, f := range favs {
		pinned[f.ID] = true
	}

	if token, ok := c.online(ctx); ok {
		joined, err := c.remote.ListJoinedTeams(ctx, token)
		if err == nil {
			teams := make([]Team, len(joined))
			c.mu.Lock()
			for i, t := range joined {
				teams[i] = Team{ID: t.ID, DisplayName: t.DisplayName, Favorite: pinned[t.ID]}
				c.names[t.ID] = t.DisplayName
			}
			c.mu.Unlock()
			sortTeams(teams)
			return teams, SourceRemote, nil
		}
		c.log.Warn("list joined teams, using cache", zap.String("error", graph.Summarize(err)))
	}

	teams := make([]Team, len(favs))
	for i, f := range favs {
		teams[i] = Team{ID: f.ID, DisplayName: f.DisplayName, Favorite: true}
	}
	sortTeams(teams)
	return teams, SourceCache, nil
}

func sortTeams(teams []Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].Favorite != teams[j].Favorite {
			return teams[i].Favorite
		}
		return strings.ToLower(teams[i].DisplayName) < strings.ToLower(teams[j].DisplayName)
	})
}

// Channels lists the channels of a team.
func (c *Catalog) Channels(ctx context.Context, teamID string) ([]store.Channel, Source, error) {
	if token, ok := c.online(ctx); ok {
		list, err := c.remote.ListChannels(ctx, token, teamID)
		if err == nil {
			channels := make([]store.Channel, len(list))
			for i, ch := range list {
				channels[i] = store.Channel{ID: ch.ID, DisplayName: ch.DisplayName}
			}
			c.writeThrough(ctx, teamID, func(f *store.FavoriteTeam) bool {
				if f.Channels != nil && slices.Equal(f.Channels, channels) {
					return false
				}
				f.Channels = channels
				return true
			})
			return channels, SourceRemote, nil
		}
		c.log.Warn("list channels, using cache", zap.String("team_id", teamID), zap.String("error", graph.Summarize(err)))
	}

	f, err := c.cached(ctx, teamID)
	if err != nil {
		return nil, "", err
	}
	if f.Channels == nil {
		return nil, "", fmt.Errorf("channels of %s: %w", teamID, ErrNotCached)
	}
	return f.Channels, SourceCache, nil
}

// Members lists the mentionable members of a team.
func (c *Catalog) Members(ctx context.Context, teamID string) ([]store.Member, Source, error) {
	if token, ok := c.online(ctx); ok {
		list, err := c.remote.ListMembers(ctx, token, teamID)
		if err == nil {
			members := make([]store.Member, len(list))
			for i, m := range list {
				members[i] = store.Member{ID: m.ID, DisplayName: m.DisplayName}
			}
			c.writeThrough(ctx, teamID, func(f *store.FavoriteTeam) bool {
				if f.Members != nil && slices.Equal(f.Members, members) {
					return false
				}
				f.Members = members
				return true
			})
			return members, SourceRemote, nil
		}
		c.log.Warn("list members, using cache", zap.String("team_id", teamID), zap.String("error", graph.Summarize(err)))
	}

	f, err := c.cached(ctx, teamID)
	if err != nil {
		return nil, "", err
	}
	if f.Members == nil {
		return nil, "", fmt.Errorf("members of %s: %w", teamID, ErrNotCached)
	}
	return f.Members, SourceCache, nil
}

// SubFolders lists the upload subfolders of a channel.
func (c *Catalog) SubFolders(ctx context.Context, teamID string, channel store.Channel) ([]store.SubFolder, Source, error) {
	if token, ok := c.online(ctx); ok && c.folders != nil {
		folders, err := c.fetchSubFolders(ctx, token, teamID, channel)
		if err == nil {
			c.writeThrough(ctx, teamID, func(f *store.FavoriteTeam) bool {
				if old, ok := f.ChannelSubFolders[channel.ID]; ok && slices.Equal(old, folders) {
					return false
				}
				if f.ChannelSubFolders == nil {
					f.ChannelSubFolders = make(map[string][]store.SubFolder)
				}
				f.ChannelSubFolders[channel.ID] = folders
				return true
			})
			return folders, SourceRemote, nil
		}
		c.log.Warn("list subfolders, using cache", zap.String("team_id", teamID), zap.String("error", graph.Summarize(err)))
	}

	f, err := c.cached(ctx, teamID)
	if err != nil {
		return nil, "", err
	}
	folders, ok := f.ChannelSubFolders[channel.ID]
	if !ok {
		return nil, "", fmt.Errorf("subfolders of %s: %w", channel.DisplayName, ErrNotCached)
	}
	return folders, SourceCache, nil
}

func (c *Catalog) fetchSubFolders(ctx context.Context, token, teamID string, channel store.Channel) ([]store.SubFolder, error) {
	siteID, err := c.remote.RootSiteID(ctx, token, teamID)
	if err != nil {
		return nil, err
	}
	list, err := c.folders.ListSubFolders(ctx, token, siteID, drive.FolderPathFor(channel.DisplayName))
	if err != nil {
		return nil, err
	}
	folders := make([]store.SubFolder, len(list))
	for i, sf := range list {
		folders[i] = store.SubFolder{ID: sf.ID, Name: sf.Name}
	}
	return folders, nil
}

func (c *Catalog) cached(ctx context.Context, teamID string) (*store.FavoriteTeam, error) {
	f, err := c.svc.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("team %s: %w", teamID, ErrNotCached)
	}
	return f, nil
}

// writeThrough applies update to the favorite record of teamID, if any, and
// persists it when update reports a change.
func (c *Catalog) writeThrough(ctx context.Context, teamID string, update func(*store.FavoriteTeam) bool) {
	f, err := c.svc.Get(ctx, teamID)
	if err != nil || f == nil {
		return
	}
	if !update(f) {
		return
	}
	if err := c.svc.db.PutFavorite(ctx, f); err != nil {
		c.log.Warn("update favorite cache", zap.String("team_id", teamID), zap.Error(err))
		return
	}
	c.svc.bus.Emit(bus.KindFavoritesCached, Cached{TeamID: teamID})
}

// TeamName resolves a display name from favorites or the last team listing.
func (c *Catalog) TeamName(ctx context.Context, teamID string) string {
	if name := c.svc.TeamName(ctx, teamID); name != "" {
		return name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[teamID]
}
