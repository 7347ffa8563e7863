package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetFavorite returns a favorite team by id, or nil if it is not a favorite.
func (db *DB) GetFavorite(ctx context.Context, teamID string) (*FavoriteTeam, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, display_name, channels, members, channel_sub_folders
		FROM favorite_teams WHERE id = ?`, teamID)
	f, err := scanFavorite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// PutFavorite inserts or fully replaces a favorite team record. Callers merge
// cached data before calling; nil list fields are stored as "not fetched".
func (db *DB) PutFavorite(ctx context.Context, f *FavoriteTeam) error {
	channels, err := encodeNullable(f.Channels, f.Channels == nil)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	members, err := encodeNullable(f.Members, f.Members == nil)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	subFolders, err := encodeNullable(f.ChannelSubFolders, f.ChannelSubFolders == nil)
	if err != nil {
		return fmt.Errorf("encode subfolders: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO favorite_teams (id, display_name, channels, members, channel_sub_folders, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			channels = excluded.channels,
			members = excluded.members,
			channel_sub_folders = excluded.channel_sub_folders,
			updated_at = excluded.updated_at`,
		f.ID, f.DisplayName, channels, members, subFolders, time.Now().UnixMilli())
	return err
}

// DeleteFavorite removes a team from the favorites cache.
func (db *DB) DeleteFavorite(ctx context.Context, teamID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM favorite_teams WHERE id = ?`, teamID)
	return err
}

// ListFavorites returns all favorite teams ordered by display name.
func (db *DB) ListFavorites(ctx context.Context) ([]FavoriteTeam, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, display_name, channels, members, channel_sub_folders
		FROM favorite_teams ORDER BY display_name COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var favs []FavoriteTeam
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		favs = append(favs, *f)
	}
	return favs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFavorite(s scanner) (*FavoriteTeam, error) {
	var (
		f                             FavoriteTeam
		channels, members, subFolders sql.NullString
	)
	if err := s.Scan(&f.ID, &f.DisplayName, &channels, &members, &subFolders); err != nil {
		return nil, err
	}
	if err := decodeNullable(channels, &f.Channels); err != nil {
		return nil, fmt.Errorf("decode channels of %q: %w", f.ID, err)
	}
	if err := decodeNullable(members, &f.Members); err != nil {
		return nil, fmt.Errorf("decode members of %q: %w", f.ID, err)
	}
	if err := decodeNullable(subFolders, &f.ChannelSubFolders); err != nil {
		return nil, fmt.Errorf("decode subfolders of %q: %w", f.ID, err)
	}
	return &f, nil
}

// encodeNullable stores "not fetched" as SQL NULL so it never collapses into
// an empty list.
func encodeNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeNullable[T any](s sql.NullString, out *T) error {
	if !s.Valid {
		return nil
	}
	return json.Unmarshal([]byte(s.String), out)
}
