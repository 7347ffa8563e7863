// Package favorites keeps the pinned-team set and its offline cache of
// channels, members and upload subfolders.
package favorites

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/store"
)

// SetChange is published on bus.KindFavoritesSetChanged with the new,
// sorted set of favorite team ids.
type SetChange struct {
	IDs []string
}

// Cached is published on bus.KindFavoritesCached after cache data of a
// favorite was written.
type Cached struct {
	TeamID string
}

// Service manages which teams are favorites.
type Service struct {
	db  *store.DB
	bus *bus.Bus
	log *zap.Logger
}

// NewService creates a favorites service.
func NewService(db *store.DB, b *bus.Bus, log *zap.Logger) *Service {
	return &Service{db: db, bus: b, log: log}
}

// List returns all favorites ordered by display name.
func (s *Service) List(ctx context.Context) ([]store.FavoriteTeam, error) {
	return s.db.ListFavorites(ctx)
}

// Get returns the favorite record of teamID, or nil.
func (s *Service) Get(ctx context.Context, teamID string) (*store.FavoriteTeam, error) {
	return s.db.GetFavorite(ctx, teamID)
}

// SetFavorite pins or unpins a team. Pinning stores a bare record whose
// cache fields are all unfetched; pinning an already pinned team only
// refreshes its display name. The set-changed event fires only when the id
// set actually changed.
func (s *Service) SetFavorite(ctx context.Context, teamID, displayName string, favorite bool) error {
	existing, err := s.db.GetFavorite(ctx, teamID)
	if err != nil {
		return fmt.Errorf("load favorite: %w", err)
	}

	switch {
	case favorite && existing == nil:
		if err := s.db.PutFavorite(ctx, &store.FavoriteTeam{ID: teamID, DisplayName: displayName}); err != nil {
			return fmt.Errorf("add favorite: %w", err)
		}
	case favorite:
		if displayName == "" || displayName == existing.DisplayName {
			return nil
		}
		existing.DisplayName = displayName
		if err := s.db.PutFavorite(ctx, existing); err != nil {
			return fmt.Errorf("rename favorite: %w", err)
		}
		return nil
	case existing == nil:
		return nil
	default:
		if err := s.db.DeleteFavorite(ctx, teamID); err != nil {
			return fmt.Errorf("remove favorite: %w", err)
		}
	}

	s.log.Info("favorites changed", zap.String("team_id", teamID), zap.Bool("favorite", favorite))
	return s.publishSet(ctx)
}

func (s *Service) publishSet(ctx context.Context) error {
	favs, err := s.db.ListFavorites(ctx)
	if err != nil {
		return fmt.Errorf("list favorites: %w", err)
	}
	ids := make([]string, len(favs))
	for i, f := range favs {
		ids[i] = f.ID
	}
	sort.Strings(ids)
	s.bus.Emit(bus.KindFavoritesSetChanged, SetChange{IDs: ids})
	return nil
}

// TeamName returns the cached display name of a favorite, or "".
func (s *Service) TeamName(ctx context.Context, teamID string) string {
	f, err := s.db.GetFavorite(ctx, teamID)
	if err != nil || f == nil {
		return ""
	}
	return f.DisplayName
}
