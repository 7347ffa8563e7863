// Package compose renders a channel message (text, mentions and images) and
// posts it.
package compose

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/imaging"
)

// DefaultText replaces an empty caption.
const DefaultText = "Neue Bilder hochgeladen: "

// PostOp prefixes errors from the message POST.
const PostOp = "Failed to post message to channel"

// Mention is a user to @-mention. Entries with an empty ID are dropped.
type Mention struct {
	ID          string
	DisplayName string
}

// File is an attachment. In linked mode only Name is used; in hosted mode
// Data is re-encoded and inlined.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request describes one message.
type Request struct {
	TeamID    string
	ChannelID string
	Text      string
	ImageURLs []string
	Files     []File
	Mentions  []Mention
}

// Message is the chatMessage payload.
type Message struct {
	Body           ItemBody        `json:"body"`
	Mentions       []MentionEntity `json:"mentions,omitempty"`
	HostedContents []HostedContent `json:"hostedContents,omitempty"`
}

type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type MentionEntity struct {
	ID          int               `json:"id"`
	MentionText string            `json:"mentionText"`
	Mentioned   MentionedIdentity `json:"mentioned"`
}

type MentionedIdentity struct {
	User MentionedUser `json:"user"`
}

type MentionedUser struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	UserIdentityType string `json:"userIdentityType"`
}

type HostedContent struct {
	TemporaryID  string `json:"@microsoft.graph.temporaryId"`
	ContentBytes string `json:"contentBytes"`
	ContentType  string `json:"contentType"`
}

// Composer builds and posts messages.
type Composer struct {
	g         *graph.Client
	maxWidth  int
	maxHeight int
	policy    imaging.Policy
}

// New creates a composer. Hosted images are scaled within maxWidth x
// maxHeight and fitted under policy.
func New(g *graph.Client, maxWidth, maxHeight int, policy imaging.Policy) *Composer {
	return &Composer{g: g, maxWidth: maxWidth, maxHeight: maxHeight, policy: policy}
}

// Build renders req into a message payload without any I/O.
//
// Linked mode applies when ImageURLs is non-empty: file i links to
// ImageURLs[i], or "#" when there is no such URL. Hosted mode applies when
// files are given without URLs: each file becomes a hosted content entry
// with temporary ids "1", "2", ...
func (c *Composer) Build(req Request) (*Message, error) {
	var (
		parts    []string
		mentions []MentionEntity
	)

	for _, m := range req.Mentions {
		if m.ID == "" {
			continue
		}
		idx := len(mentions)
		name := html.EscapeString(m.DisplayName)
		parts = append(parts, fmt.Sprintf(`<at id="%d">%s</at>`, idx, name))
		mentions = append(mentions, MentionEntity{
			ID:          idx,
			MentionText: m.DisplayName,
			Mentioned: MentionedIdentity{User: MentionedUser{
				ID:               m.ID,
				DisplayName:      m.DisplayName,
				UserIdentityType: "aadUser",
			}},
		})
	}

	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = DefaultText
	}
	parts = append(parts, html.EscapeString(text))
	content := strings.Join(parts, " ")

	msg := &Message{Mentions: mentions}
	switch {
	case len(req.ImageURLs) > 0:
		content += linkedImages(req.Files, req.ImageURLs)
	case len(req.Files) > 0:
		hosted, body, err := c.hostedImages(req.Files)
		if err != nil {
			return nil, err
		}
		msg.HostedContents = hosted
		content += body
	}

	msg.Body = ItemBody{ContentType: "html", Content: content}
	return msg, nil
}

func linkedImages(files []File, urls []string) string {
	var b strings.Builder
	if len(files) == 0 {
		for _, u := range urls {
			fmt.Fprintf(&b, `<br><a href="%s">%s</a>`, safeHref(u), html.EscapeString(u))
		}
		return b.String()
	}
	for i, f := range files {
		href := "#"
		if i < len(urls) && urls[i] != "" {
			href = safeHref(urls[i])
		}
		fmt.Fprintf(&b, `<br><a href="%s">%s</a>`, href, html.EscapeString(f.Name))
	}
	return b.String()
}

// safeHref keeps http(s) links and replaces anything else with "#".
func safeHref(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "#"
	}
	return html.EscapeString(raw)
}

func (c *Composer) hostedImages(files []File) ([]HostedContent, string, error) {
	inputs := make([]imaging.File, len(files))
	for i, f := range files {
		inputs[i] = imaging.File{Name: f.Name, Data: f.Data}
	}
	encoded, err := imaging.EncodeFilesToBase64(inputs, c.maxWidth, c.maxHeight, c.policy)
	if err != nil {
		return nil, "", fmt.Errorf("prepare hosted images: %w", err)
	}

	hosted := make([]HostedContent, len(encoded))
	var b strings.Builder
	for i, enc := range encoded {
		id := strconv.Itoa(i + 1)
		hosted[i] = HostedContent{
			TemporaryID:  id,
			ContentBytes: enc.Base64,
			ContentType:  enc.MimeType,
		}
		fmt.Fprintf(&b, `<br><img src="../hostedContents/%s/$value" alt="%s">`, id, html.EscapeString(files[i].Name))
	}
	return hosted, b.String(), nil
}

// Post builds req and POSTs it to the channel. A non-success answer is a
// *graph.RemoteError reading "Failed to post message to channel: {status} {body}".
func (c *Composer) Post(ctx context.Context, token string, req Request) error {
	msg, err := c.Build(req)
	if err != nil {
		return err
	}
	path := "/teams/" + url.PathEscape(req.TeamID) + "/channels/" + url.PathEscape(req.ChannelID) + "/messages"
	return c.g.DoJSON(ctx, PostOp, http.MethodPost, token, path, msg, nil)
}
