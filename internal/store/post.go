package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AddPost adds a post to the queue and returns its assigned id.
func (t *Tx) AddPost(ctx context.Context, p *Post) (int64, error) {
	return addPost(ctx, t.tx, p)
}

// AddImage adds an image blob owned by postID.
func (t *Tx) AddImage(ctx context.Context, postID int64, f File) (int64, error) {
	return addImage(ctx, t.tx, postID, f)
}

// DeleteImages removes every image owned by postID.
func (t *Tx) DeleteImages(ctx context.Context, postID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM images WHERE post_id = ?`, postID)
	return err
}

// DeletePost removes a post; its images go with it through the cascade.
func (t *Tx) DeletePost(ctx context.Context, postID int64) error {
	return deletePost(ctx, t.tx, postID)
}

// DeletePost removes a post and its images.
func (db *DB) DeletePost(ctx context.Context, postID int64) error {
	return deletePost(ctx, db, postID)
}

// GetPost returns a queued post by id, or nil if it no longer exists.
func (db *DB) GetPost(ctx context.Context, postID int64) (*Post, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, client_id, team_id, channel_id, channel_display_name, text,
		       image_urls, mentions, sub_folder, timestamp
		FROM posts WHERE id = ?`, postID)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPosts returns every queued post in enqueue order.
func (db *DB) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, team_id, channel_id, channel_display_name, text,
		       image_urls, mentions, sub_folder, timestamp
		FROM posts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// CountPosts returns the number of queued posts.
func (db *DB) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// ListImages returns the images of a post in insertion order.
func (db *DB) ListImages(ctx context.Context, postID int64) ([]Image, error) {
	return listImages(ctx, db, postID)
}

// CountImages returns the number of stored images for a post.
func (db *DB) CountImages(ctx context.Context, postID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE post_id = ?`, postID).Scan(&n)
	return n, err
}

func addPost(ctx context.Context, q querier, p *Post) (int64, error) {
	urls := p.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	mentions := p.Mentions
	if mentions == nil {
		mentions = []Member{}
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return 0, fmt.Errorf("encode image urls: %w", err)
	}
	mentionsJSON, err := json.Marshal(mentions)
	if err != nil {
		return 0, fmt.Errorf("encode mentions: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO posts (client_id, team_id, channel_id, channel_display_name, text,
		                   image_urls, mentions, sub_folder, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ClientID, p.TeamID, p.ChannelID, p.ChannelDisplayName, p.Text,
		string(urlsJSON), string(mentionsJSON), p.SubFolder, p.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func addImage(ctx context.Context, q querier, postID int64, f File) (int64, error) {
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO images (post_id, file_name, mime_type, size, data)
		VALUES (?, ?, ?, ?, ?)`,
		postID, f.Name, f.MimeType, len(data), data)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func deletePost(ctx context.Context, q querier, postID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, postID)
	return err
}

func listImages(ctx context.Context, q querier, postID int64) ([]Image, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, post_id, file_name, mime_type, data
		FROM images WHERE post_id = ? ORDER BY id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.PostID, &img.Name, &img.MimeType, &img.Data); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func scanPost(s scanner) (*Post, error) {
	var (
		p                      Post
		urlsJSON, mentionsJSON string
	)
	if err := s.Scan(&p.ID, &p.ClientID, &p.TeamID, &p.ChannelID, &p.ChannelDisplayName, &p.Text,
		&urlsJSON, &mentionsJSON, &p.SubFolder, &p.Timestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(urlsJSON), &p.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls of post %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(mentionsJSON), &p.Mentions); err != nil {
		return nil, fmt.Errorf("decode mentions of post %d: %w", p.ID, err)
	}
	return &p, nil
}
