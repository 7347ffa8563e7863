// Package drive moves files into a team site's document library under a
// per-channel folder and returns their web URLs.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/matheus3301/tpost/internal/graph"
)

const (
	// ChunkAlignment is the byte multiple every upload-session chunk must
	// respect, except the last one.
	ChunkAlignment = 327680
	// DefaultChunkSize is one aligned unit.
	DefaultChunkSize = ChunkAlignment
	// DefaultLargeFileThreshold selects the session upload for bigger files.
	DefaultLargeFileThreshold = 4 * 1024 * 1024

	folderSuffix = "Bilder"
)

// File is a payload to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Observer is notified about upload traffic.
type Observer interface {
	ObserveUpload(method string, bytes int)
	ObserveChunk()
}

// Client wraps a graph.Client with drive operations.
type Client struct {
	g              *graph.Client
	chunkSize      int
	largeThreshold int
	observer       Observer
}

// Option configures a Client.
type Option func(*Client) error

// WithChunkSize sets the session chunk size. It must be a positive multiple
// of ChunkAlignment.
func WithChunkSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 || n%ChunkAlignment != 0 {
			return fmt.Errorf("chunk size %d: must be a positive multiple of %d", n, ChunkAlignment)
		}
		c.chunkSize = n
		return nil
	}
}

// WithLargeFileThreshold sets the size above which uploads use a session.
func WithLargeFileThreshold(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("large file threshold %d: must be positive", n)
		}
		c.largeThreshold = n
		return nil
	}
}

// WithObserver installs an upload observer.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		c.observer = o
		return nil
	}
}

// New creates a drive client.
func New(g *graph.Client, opts ...Option) (*Client, error) {
	c := &Client{
		g:              g,
		chunkSize:      DefaultChunkSize,
		largeThreshold: DefaultLargeFileThreshold,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FolderPathFor returns the upload folder for a channel.
func FolderPathFor(channelDisplayName string) string {
	return channelDisplayName + "/" + folderSuffix
}

// SubFolderPath appends an optional subfolder to a channel folder path.
func SubFolderPath(channelDisplayName, subFolder string) string {
	p := FolderPathFor(channelDisplayName)
	if s := strings.Trim(subFolder, "/"); s != "" {
		p += "/" + s
	}
	return p
}

// escapePath escapes each segment of a slash-separated drive path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(norm.NFC.String(s))
	}
	return strings.Join(segs, "/")
}

func rootPath(siteID string) string {
	return "/sites/" + url.PathEscape(siteID) + "/drive/root"
}

func itemPath(siteID, p string) string {
	return rootPath(siteID) + ":/" + escapePath(p)
}

// FolderExists probes path. Any non-success answer, including transport
// failures, reads as "does not exist".
func (c *Client) FolderExists(ctx context.Context, token, siteID, path string) bool {
	req, err := c.g.NewRequest(ctx, http.MethodGet, token, itemPath(siteID, path), nil)
	if err != nil {
		return false
	}
	resp, err := c.g.Do(req, "check folder")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

type createFolderRequest struct {
	Name     string         `json:"name"`
	Folder   map[string]any `json:"folder"`
	Conflict string         `json:"@microsoft.graph.conflictBehavior"`
}

// CreateFolder creates the last segment of path as a child of its parent.
// The parent must already exist. Fails on any non-success answer, including
// a 409 when the folder is already there.
func (c *Client) CreateFolder(ctx context.Context, token, siteID, path string) error {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return errors.New("create folder: empty path")
	}
	parent, name := "", trimmed
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		parent, name = trimmed[:i], trimmed[i+1:]
	}

	target := rootPath(siteID) + "/children"
	if parent != "" {
		target = itemPath(siteID, parent) + ":/children"
	}
	body := createFolderRequest{
		Name:     norm.NFC.String(name),
		Folder:   map[string]any{},
		Conflict: "fail",
	}
	return c.g.DoJSON(ctx, "create folder", http.MethodPost, token, target, body, nil)
}

// EnsureFolder creates every missing level of path using check-then-create.
// A conflict from create means a concurrent writer won the race and counts
// as success.
func (c *Client) EnsureFolder(ctx context.Context, token, siteID, path string) error {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := range segs {
		level := strings.Join(segs[:i+1], "/")
		if c.FolderExists(ctx, token, siteID, level) {
			continue
		}
		if err := c.CreateFolder(ctx, token, siteID, level); err != nil && !graph.IsConflict(err) {
			return err
		}
	}
	return nil
}

// SubFolder is a child folder.
type SubFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type children struct {
	Value *[]struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Folder *map[string]any `json:"folder"`
	} `json:"value"`
}

// ListSubFolders returns the folders directly under path. A missing path has
// no subfolders.
func (c *Client) ListSubFolders(ctx context.Context, token, siteID, path string) ([]SubFolder, error) {
	var resp children
	err := c.g.DoJSON(ctx, "list subfolders", http.MethodGet, token, itemPath(siteID, path)+":/children", nil, &resp)
	if graph.IsNotFound(err) {
		return []SubFolder{}, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, &graph.DecodeError{Op: "list subfolders", Err: errors.New(`missing "value"`)}
	}
	folders := []SubFolder{}
	for _, item := range *resp.Value {
		if item.Folder != nil && item.ID != "" {
			folders = append(folders, SubFolder{ID: item.ID, Name: item.Name})
		}
	}
	return folders, nil
}

// Upload stores f under path and returns its web URL, choosing the session
// protocol for files larger than the threshold.
func (c *Client) Upload(ctx context.Context, token, siteID string, f File, path string) (string, error) {
	if len(f.Data) > c.largeThreshold {
		return c.UploadLargeFile(ctx, token, siteID, f, path)
	}
	return c.UploadSmallFile(ctx, token, siteID, f, path)
}
