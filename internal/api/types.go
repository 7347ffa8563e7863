package api

// Status is the daemon state returned by GetStatus.
type Status struct {
	Session       string     `json:"session"`
	State         string     `json:"state"`
	Online        bool       `json:"online"`
	Authenticated bool       `json:"authenticated"`
	QueueLength   int        `json:"queue_length"`
	UptimeMs      int64      `json:"uptime_ms"`
	Mode          string     `json:"mode"`
	LastDrain     *LastDrain `json:"last_drain,omitempty"`
}

// LastDrain mirrors the latest drain checkpoint.
type LastDrain struct {
	AtUnixMs  int64  `json:"at_unix_ms"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// File is an image attached to a capture.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Mention is a member to @-mention.
type Mention struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SubmitRequest is a capture to queue and deliver.
type SubmitRequest struct {
	TeamID      string    `json:"team_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Text        string    `json:"text"`
	SubFolder   string    `json:"sub_folder,omitempty"`
	Files       []File    `json:"files,omitempty"`
	Mentions    []Mention `json:"mentions,omitempty"`
}

// SubmitResponse reports the outcome of a capture. Outcome is empty when
// the capture had nothing to post.
type SubmitResponse struct {
	Outcome  string `json:"outcome"`
	PostID   int64  `json:"post_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DrainResponse is the result of SyncNow.
type DrainResponse struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// QueuedPost is one entry of ListQueue.
type QueuedPost struct {
	ID          int64  `json:"id"`
	ClientID    string `json:"client_id"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Text        string `json:"text"`
	SubFolder   string `json:"sub_folder,omitempty"`
	Images      int    `json:"images"`
	Mentions    int    `json:"mentions"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// QueueResponse lists queued posts, oldest first.
type QueueResponse struct {
	Posts []QueuedPost `json:"posts"`
}

// Team is a browsable team.
type Team struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Favorite    bool   `json:"favorite"`
}

// TeamsResponse lists teams and where they came from ("remote" or "cache").
type TeamsResponse struct {
	Source string `json:"source"`
	Teams  []Team `json:"teams"`
}

// Channel is a team channel.
type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ChannelsResponse lists channels of a team.
type ChannelsResponse struct {
	Source   string    `json:"source"`
	Channels []Channel `json:"channels"`
}

// MembersResponse lists mentionable members of a team.
type MembersResponse struct {
	Source  string    `json:"source"`
	Members []Mention `json:"members"`
}

// SubFoldersRequest selects a channel's upload folder.
type SubFoldersRequest struct {
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// SubFolder is a folder below a channel's upload folder.
type SubFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SubFoldersResponse lists subfolders of a channel.
type SubFoldersResponse struct {
	Source     string      `json:"source"`
	SubFolders []SubFolder `json:"sub_folders"`
}

// FavoriteRequest pins or unpins a team.
type FavoriteRequest struct {
	TeamID      string `json:"team_id"`
	DisplayName string `json:"display_name"`
	Favorite    bool   `json:"favorite"`
}

// Login event types.
const (
	LoginCode  = "code"
	LoginDone  = "done"
	LoginError = "error"
)

// LoginEvent is streamed by Login.
type LoginEvent struct {
	Type            string `json:"type"`
	UserCode        string `json:"user_code,omitempty"`
	VerificationURI string `json:"verification_uri,omitempty"`
	CompleteURI     string `json:"complete_uri,omitempty"`
	ExpiresAtUnixMs int64  `json:"expires_at_unix_ms,omitempty"`
	QR              string `json:"qr,omitempty"`
	Message         string `json:"message,omitempty"`
}

// QueueEvent is streamed by WatchQueue.
type QueueEvent struct {
	EventID          string `json:"event_id"`
	Session          string `json:"session"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Reason           string `json:"reason,omitempty"`
	PostID           int64  `json:"post_id,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	Pending          int    `json:"pending"`
	Current          int    `json:"current,omitempty"`
	Total            int    `json:"total,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
}
