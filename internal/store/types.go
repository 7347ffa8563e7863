package store

// Channel is a channel of a team as cached for offline browsing.
type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Member is a team member that can be mentioned in a post.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// SubFolder is a child folder under a channel's upload folder.
type SubFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FavoriteTeam is a pinned team with its lazily cached channel data.
// A nil Channels, Members or ChannelSubFolders means "not fetched yet";
// an empty non-nil value means "fetched and empty".
type FavoriteTeam struct {
	ID                string
	DisplayName       string
	Channels          []Channel
	Members           []Member
	ChannelSubFolders map[string][]SubFolder
}

// Post is a queued channel message awaiting upload and posting.
type Post struct {
	ID                 int64
	ClientID           string
	TeamID             string
	ChannelID          string
	ChannelDisplayName string
	Text               string // raw user text, escaped only when the message is built
	ImageURLs          []string
	Mentions           []Member
	SubFolder          string
	Timestamp          int64 // unix millis
}

// File is a raw attachment payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Image is a pending image blob owned by a post.
type Image struct {
	ID     int64
	PostID int64
	File
}
