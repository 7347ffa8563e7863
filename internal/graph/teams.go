package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Team is a joined team.
type Team struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Channel is a channel of a team.
type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Member is a team member that can be mentioned. ID is the platform user id.
type Member struct {
	ID          string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// User is the signed-in account.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New(`missing "id"`)
	}
	return nil
}

// Email returns the mail address, falling back to the principal name.
func (u *User) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// ListJoinedTeams returns the teams the signed-in user belongs to.
func (c *Client) ListJoinedTeams(ctx context.Context, token string) ([]Team, error) {
	return getAll[Team](ctx, c, "list joined teams", token, "/me/joinedTeams")
}

// ListChannels returns the channels of a team.
func (c *Client) ListChannels(ctx context.Context, token, teamID string) ([]Channel, error) {
	return getAll[Channel](ctx, c, "list channels", token, "/teams/"+url.PathEscape(teamID)+"/channels")
}

// ListMembers returns the members of a team. Entries without a user id
// cannot be mentioned and are dropped.
func (c *Client) ListMembers(ctx context.Context, token, teamID string) ([]Member, error) {
	all, err := getAll[Member](ctx, c, "list members", token, "/teams/"+url.PathEscape(teamID)+"/members")
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(all))
	for _, m := range all {
		if m.ID != "" {
			members = append(members, m)
		}
	}
	return members, nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var u User
	if err := c.DoJSON(ctx, "get current user", http.MethodGet, token, "/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
