package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/text/unicode/norm"
)

type driveItem struct {
	WebURL string `json:"webUrl"`
}

func (d *driveItem) Validate() error {
	if d.WebURL == "" {
		return errors.New(`missing "webUrl"`)
	}
	return nil
}

type uploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

func (u *uploadSession) Validate() error {
	if u.UploadURL == "" {
		return errors.New(`missing "uploadUrl"`)
	}
	return nil
}

func filePath(siteID string, f File, folder string) string {
	return itemPath(siteID, folder+"/"+norm.NFC.String(f.Name))
}

// UploadSmallFile PUTs the whole payload in one request and then reads the
// item's web URL.
func (c *Client) UploadSmallFile(ctx context.Context, token, siteID string, f File, path string) (string, error) {
	target := filePath(siteID, f, path)
	req, err := c.g.NewRequest(ctx, http.MethodPut, token, target+":/content", bytes.NewReader(f.Data))
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	req.Header.Set("Content-Type", contentType(f))
	resp, err := c.g.Do(req, "upload file")
	if err != nil {
		return "", err
	}
	_ = resp.Body.Close()
	if c.observer != nil {
		c.observer.ObserveUpload("small", len(f.Data))
	}
	return c.webURL(ctx, token, target)
}

// UploadLargeFile opens an upload session and PUTs the payload in aligned
// chunks, in order. Chunk requests go to the session URL without an
// Authorization header. Any failure aborts the whole upload; the next call
// starts a fresh session.
func (c *Client) UploadLargeFile(ctx context.Context, token, siteID string, f File, path string) (string, error) {
	target := filePath(siteID, f, path)
	body := map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": "replace",
			"name":                              norm.NFC.String(f.Name),
		},
	}
	var session uploadSession
	if err := c.g.DoJSON(ctx, "create upload session", http.MethodPost, token, target+":/createUploadSession", body, &session); err != nil {
		return "", err
	}

	total := len(f.Data)
	for start := 0; start < total; start += c.chunkSize {
		end := min(start+c.chunkSize, total)
		if err := c.putChunk(ctx, session.UploadURL, f.Data[start:end], start, total); err != nil {
			c.cancelSession(session.UploadURL)
			return "", err
		}
	}
	if c.observer != nil {
		c.observer.ObserveUpload("session", total)
	}
	return c.webURL(ctx, token, target)
}

func (c *Client) putChunk(ctx context.Context, uploadURL string, chunk []byte, start, total int) error {
	req, err := c.g.NewRequest(ctx, http.MethodPut, "", uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+len(chunk)-1, total))

	resp, err := c.g.Do(req, "upload chunk")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if c.observer != nil {
		c.observer.ObserveChunk()
	}
	return nil
}

// cancelSession releases a failed session. Best effort; the remote expires
// abandoned sessions on its own.
func (c *Client) cancelSession(uploadURL string) {
	req, err := c.g.NewRequest(context.Background(), http.MethodDelete, "", uploadURL, nil)
	if err != nil {
		return
	}
	if resp, err := c.g.Do(req, "cancel upload session"); err == nil {
		_ = resp.Body.Close()
	}
}

func (c *Client) webURL(ctx context.Context, token, target string) (string, error) {
	var item driveItem
	if err := c.g.DoJSON(ctx, "get uploaded item", http.MethodGet, token, target, nil, &item); err != nil {
		return "", err
	}
	return item.WebURL, nil
}

func contentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return "application/octet-stream"
}
