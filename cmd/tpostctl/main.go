package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/matheus3301/tpost/internal/api"
	"github.com/matheus3301/tpost/internal/session"
)

const (
	callTimeout = 30 * time.Second
	// deliveryTimeout covers post and sync, which wait for uploads. The
	// daemon answers "queued" before this runs out.
	deliveryTimeout = 10 * time.Minute
)

type options struct {
	Session string `long:"session" description:"session name (overrides config default)"`
	JSON    bool   `long:"json" description:"output in JSON format"`

	Status     statusCmd     `command:"status" description:"Show daemon status"`
	Login      loginCmd      `command:"login" description:"Sign in with a device code"`
	Logout     logoutCmd     `command:"logout" description:"Forget the signed-in account"`
	Teams      teamsCmd      `command:"teams" description:"List teams, favorites first"`
	Channels   channelsCmd   `command:"channels" description:"List channels of a team"`
	Members    membersCmd    `command:"members" description:"List mentionable members of a team"`
	SubFolders subFoldersCmd `command:"subfolders" description:"List upload subfolders of a channel"`
	Favorite   favoriteCmd   `command:"favorite" description:"Pin or unpin a team for offline use"`
	Post       postCmd       `command:"post" description:"Post text and photos to a channel"`
	Queue      queueCmd      `command:"queue" description:"List posts waiting for delivery"`
	Sync       syncCmd       `command:"sync" description:"Deliver queued posts now"`
	Watch      watchCmd      `command:"watch" description:"Stream queue and connectivity events"`
}

var opts = options{
	Favorite: favoriteCmd{Add: favoriteSetCmd{pin: true}},
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		// go-flags has already printed the error.
		os.Exit(1)
	}
}

// connect dials the daemon of the selected session.
func connect() (*api.Client, error) {
	name, err := session.Resolve(opts.Session)
	if err != nil {
		return nil, err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, nil
}

// call runs fn against a fresh client with the default timeout.
func call(fn func(ctx context.Context, c *api.Client) error) error {
	return callWithin(callTimeout, fn)
}

func callWithin(timeout time.Duration, fn func(ctx context.Context, c *api.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
