package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

type site struct {
	ID string `json:"id"`
}

func (s *site) Validate() error {
	if s.ID == "" {
		return errors.New(`missing "id"`)
	}
	return nil
}

// RootSiteID returns the id of the SharePoint site backing a team's files.
func (c *Client) RootSiteID(ctx context.Context, token, teamID string) (string, error) {
	var s site
	path := "/groups/" + url.PathEscape(teamID) + "/sites/root"
	if err := c.DoJSON(ctx, "get team site", http.MethodGet, token, path, nil, &s); err != nil {
		return "", err
	}
	return s.ID, nil
}

type listItem struct {
	ID string `json:"id"`
}

// CreateListItem appends an item with the given fields to a SharePoint list
// and returns the new item id.
func (c *Client) CreateListItem(ctx context.Context, token, siteID, listID string, fields map[string]any) (string, error) {
	path := "/sites/" + url.PathEscape(siteID) + "/lists/" + url.PathEscape(listID) + "/items"
	var item listItem
	body := map[string]any{"fields": fields}
	if err := c.DoJSON(ctx, "create list item", http.MethodPost, token, path, body, &item); err != nil {
		return "", err
	}
	return item.ID, nil
}
