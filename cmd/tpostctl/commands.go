package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/tpost/internal/api"
)

type statusCmd struct{}

func (statusCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		st, err := c.GetStatus(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(st)
			return nil
		}
		fmt.Printf("Session:  %s\n", st.Session)
		fmt.Printf("State:    %s\n", st.State)
		fmt.Printf("Mode:     %s\n", st.Mode)
		fmt.Printf("Queue:    %d\n", st.QueueLength)
		fmt.Printf("Uptime:   %s\n", time.Duration(st.UptimeMs)*time.Millisecond)
		if d := st.LastDrain; d != nil {
			fmt.Printf("Last run: %s (%d synced, %d failed)\n",
				time.UnixMilli(d.AtUnixMs).Format(time.RFC3339), d.Synced, d.Failed)
			if d.LastError != "" {
				fmt.Printf("          %s\n", d.LastError)
			}
		}
		return nil
	})
}

type loginCmd struct{}

func (loginCmd) Execute([]string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// The device code stays valid for several minutes; only Ctrl-C aborts.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed error
	err = c.Login(ctx, func(evt api.LoginEvent) error {
		switch evt.Type {
		case api.LoginCode:
			if evt.QR != "" {
				fmt.Println(evt.QR)
			}
			target := evt.CompleteURI
			if target == "" {
				target = evt.VerificationURI
			}
			fmt.Printf("Open %s and enter code %s\n", target, evt.UserCode)
		case api.LoginDone:
			fmt.Println("Signed in.")
		case api.LoginError:
			failed = errors.New(evt.Message)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failed
}

type logoutCmd struct{}

func (logoutCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	})
}

type teamsCmd struct{}

func (teamsCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		resp, err := c.ListTeams(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		if len(resp.Teams) == 0 {
			fmt.Println("No teams found.")
			return nil
		}
		for _, t := range resp.Teams {
			star := " "
			if t.Favorite {
				star = "*"
			}
			fmt.Printf("%s %-40s %s\n", star, t.DisplayName, t.ID)
		}
		if resp.Source == "cache" {
			fmt.Println("(offline: favorites only)")
		}
		return nil
	})
}

type teamArg struct {
	Team string `positional-arg-name:"team-id"`
}

type channelsCmd struct {
	Args teamArg `positional-args:"yes" required:"yes"`
}

func (cmd *channelsCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		resp, err := c.ListChannels(ctx, cmd.Args.Team)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		for _, ch := range resp.Channels {
			fmt.Printf("%-40s %s\n", ch.DisplayName, ch.ID)
		}
		return nil
	})
}

type membersCmd struct {
	Args teamArg `positional-args:"yes" required:"yes"`
}

func (cmd *membersCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		resp, err := c.ListMembers(ctx, cmd.Args.Team)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		for _, m := range resp.Members {
			fmt.Printf("%-40s %s\n", m.DisplayName, m.ID)
		}
		return nil
	})
}

type subFoldersCmd struct {
	Team        string `long:"team" required:"yes" description:"team id"`
	Channel     string `long:"channel" required:"yes" description:"channel id"`
	ChannelName string `long:"channel-name" required:"yes" description:"channel display name"`
}

func (cmd *subFoldersCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		resp, err := c.ListSubFolders(ctx, api.SubFoldersRequest{
			TeamID:      cmd.Team,
			ChannelID:   cmd.Channel,
			ChannelName: cmd.ChannelName,
		})
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		for _, f := range resp.SubFolders {
			fmt.Println(f.Name)
		}
		return nil
	})
}

type favoriteCmd struct {
	Add    favoriteSetCmd `command:"add" description:"Pin a team"`
	Remove favoriteSetCmd `command:"remove" description:"Unpin a team"`
}

type favoriteSetCmd struct {
	pin  bool
	Args struct {
		Team string `positional-arg-name:"team-id"`
		Name string `positional-arg-name:"display-name"`
	} `positional-args:"yes"`
}

func (cmd *favoriteSetCmd) Execute([]string) error {
	if cmd.Args.Team == "" {
		return errors.New("team id is required")
	}
	return call(func(ctx context.Context, c *api.Client) error {
		return c.SetFavorite(ctx, api.FavoriteRequest{
			TeamID:      cmd.Args.Team,
			DisplayName: cmd.Args.Name,
			Favorite:    cmd.pin,
		})
	})
}

type postCmd struct {
	Team        string   `long:"team" required:"yes" description:"team id"`
	Channel     string   `long:"channel" required:"yes" description:"channel id"`
	ChannelName string   `long:"channel-name" required:"yes" description:"channel display name"`
	Text        string   `long:"text" description:"message text"`
	SubFolder   string   `long:"subfolder" description:"upload subfolder below the channel folder"`
	Mentions    []string `long:"mention" value-name:"ID=NAME" description:"member to mention (repeatable)"`
	Args        struct {
		Photos []string `positional-arg-name:"photo"`
	} `positional-args:"yes"`
}

func (cmd *postCmd) Execute([]string) error {
	req := api.SubmitRequest{
		TeamID:      cmd.Team,
		ChannelID:   cmd.Channel,
		ChannelName: cmd.ChannelName,
		Text:        cmd.Text,
		SubFolder:   cmd.SubFolder,
	}
	for _, m := range cmd.Mentions {
		id, name, ok := strings.Cut(m, "=")
		if !ok || id == "" || name == "" {
			return fmt.Errorf("invalid mention %q: want ID=NAME", m)
		}
		req.Mentions = append(req.Mentions, api.Mention{ID: id, DisplayName: name})
	}
	for _, p := range cmd.Args.Photos {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		req.Files = append(req.Files, api.File{Name: filepath.Base(p), MimeType: mimeType, Data: data})
	}

	return callWithin(deliveryTimeout, func(ctx context.Context, c *api.Client) error {
		resp, err := c.Submit(ctx, req)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		switch resp.Outcome {
		case "":
			fmt.Println("Nothing to post.")
		case "sent":
			fmt.Println("Posted.")
		default:
			fmt.Printf("Queued as #%d.\n", resp.PostID)
			if resp.Error != "" {
				fmt.Printf("Delivery failed: %s\n", resp.Error)
			}
		}
		return nil
	})
}

type queueCmd struct{}

func (queueCmd) Execute([]string) error {
	return call(func(ctx context.Context, c *api.Client) error {
		resp, err := c.ListQueue(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		if len(resp.Posts) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, p := range resp.Posts {
			fmt.Printf("#%-5d %s  %-24s %d photo(s)  %s\n",
				p.ID, time.UnixMilli(p.TimestampMs).Format("2006-01-02 15:04"),
				p.ChannelName, p.Images, p.Text)
		}
		return nil
	})
}

type syncCmd struct{}

func (syncCmd) Execute([]string) error {
	return callWithin(deliveryTimeout, func(ctx context.Context, c *api.Client) error {
		resp, err := c.SyncNow(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Synced %d of %d, %d failed, %d remaining.\n",
			resp.Synced, resp.Attempted, resp.Failed, resp.Remaining)
		return nil
	})
}

type watchCmd struct{}

func (watchCmd) Execute([]string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = c.WatchQueue(ctx, func(evt api.QueueEvent) error {
		if opts.JSON {
			outputJSON(evt)
			return nil
		}
		ts := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
		switch {
		case evt.State != "":
			fmt.Printf("%s %s\n", ts, evt.State)
		case evt.Total > 0:
			fmt.Printf("%s #%d photo %d/%d\n", ts, evt.PostID, evt.Current, evt.Total)
		default:
			fmt.Printf("%s #%d %s (%d pending)", ts, evt.PostID, evt.Reason, evt.Pending)
			if evt.Error != "" {
				fmt.Printf(": %s", evt.Error)
			}
			fmt.Println()
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
