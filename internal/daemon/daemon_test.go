package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/tpost/internal/api"
	"github.com/matheus3301/tpost/internal/auth"
	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/compose"
	"github.com/matheus3301/tpost/internal/config"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/favorites"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/imaging"
	"github.com/matheus3301/tpost/internal/metrics"
	"github.com/matheus3301/tpost/internal/status"
	"github.com/matheus3301/tpost/internal/store"
	intsync "github.com/matheus3301/tpost/internal/sync"
)

const testToken = `{"access_token":"tok","token_type":"Bearer","expiry":"2099-01-01T00:00:00Z"}`

// fakeGraph accepts site, drive and message calls and counts posted messages.
// A non-zero delay holds every message post for that long.
type fakeGraph struct {
	srv   *httptest.Server
	delay time.Duration

	mu       sync.Mutex
	messages int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	return newSlowGraph(t, 0)
}

func newSlowGraph(t *testing.T, delay time.Duration) *fakeGraph {
	t.Helper()
	fg := &fakeGraph{delay: delay}
	r := mux.NewRouter()
	r.HandleFunc("/groups/{team}/sites/root", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "site-1"})
	})
	r.PathPrefix("/sites/{site}/drive/root").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPut {
			writeJSON(w, http.StatusCreated, map[string]string{"id": "f"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "i", "webUrl": "https://contoso.example/item", "folder": map[string]any{}})
	})
	r.HandleFunc("/teams/{team}/channels/{channel}/messages", func(w http.ResponseWriter, req *http.Request) {
		if fg.delay > 0 {
			select {
			case <-time.After(fg.delay):
			case <-req.Context().Done():
				return
			}
		}
		fg.mu.Lock()
		fg.messages++
		fg.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"id": "m1"})
	}).Methods(http.MethodPost)
	fg.srv = httptest.NewServer(r)
	t.Cleanup(fg.srv.Close)
	return fg
}

func (fg *fakeGraph) posted() int {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	return fg.messages
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stack is a daemon assembled by hand, without fx.
type stack struct {
	db      *store.DB
	bus     *bus.Bus
	monitor *connectivity.Monitor
	auth    *auth.Authenticator
	client  *api.Client
}

func newStack(t *testing.T, graphURL string) *stack {
	return newStackFor(t, graphURL, "app")
}

func newStackFor(t *testing.T, graphURL, clientID string) *stack {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "tpost-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "tpost.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	monitor := connectivity.NewMonitor(b, status.NewMachine(b), logger)
	m := metrics.New()
	g := graph.New(graphURL, graph.WithObserver(m))
	dc, err := drive.New(g, drive.WithObserver(m))
	require.NoError(t, err)
	a := auth.New(auth.Config{AuthorityURL: graphURL, TenantID: "common", ClientID: clientID}, db, logger)
	favs := favorites.NewService(db, b, logger)
	catalog := favorites.NewCatalog(favs, g, dc, a, monitor, logger)
	engine := intsync.NewEngine(intsync.Deps{
		DB:       db,
		Bus:      b,
		Tokens:   a,
		Sites:    g,
		Drive:    dc,
		Composer: compose.New(g, 1920, 1920, imaging.DefaultPolicy),
		Teams:    catalog,
		Gate:     monitor,
		Metrics:  m,
		Logger:   logger,
	}, intsync.Options{})
	// Runs before the database closes.
	t.Cleanup(engine.Stop)

	svc := api.NewControlService(api.Deps{
		SessionName: "test",
		Mode:        config.ModeDrive,
		DB:          db,
		Bus:         b,
		Engine:      engine,
		Favorites:   favs,
		Catalog:     catalog,
		Monitor:     monitor,
		Account:     a,
		Logger:      logger,
	})

	srv, err := NewServer(Params{SessionName: "test", SocketPath: filepath.Join(tmpDir, "d.sock")}, logger, svc)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client, err := api.Dial(filepath.Join(tmpDir, "d.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &stack{db: db, bus: b, monitor: monitor, auth: a, client: client}
}

// signIn stores a valid token and marks the stack online.
func (s *stack) signIn(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.db.SetValue(ctx, "auth.token", testToken))
	require.True(t, s.auth.HasAccount(ctx), "expected stored account")
	s.monitor.SetAuthenticated(true)
	s.monitor.SetOnline(true)
}

func codeOf(err error) codes.Code {
	return grpcstatus.Code(err)
}

func capture(text string, files ...api.File) api.SubmitRequest {
	return api.SubmitRequest{
		TeamID:      "t1",
		ChannelID:   "c1",
		ChannelName: "Allgemein",
		Text:        text,
		Files:       files,
	}
}

func TestDaemonLifecycle(t *testing.T) {
	s := newStack(t, "http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Session)
	assert.Equal(t, string(status.Booting), st.State)

	// Offline: the capture is queued with its image.
	resp, err := s.client.Submit(ctx, capture("Baustelle", api.File{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte{1, 2, 3}}))
	require.NoError(t, err)
	assert.Equal(t, string(intsync.OutcomeQueued), resp.Outcome)
	assert.NotZero(t, resp.PostID)
	assert.NotEmpty(t, resp.ClientID)

	// Nothing to post is not an error.
	resp, err = s.client.Submit(ctx, capture("  "))
	require.NoError(t, err)
	assert.Empty(t, resp.Outcome)

	queue, err := s.client.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue.Posts, 1)
	assert.Equal(t, 1, queue.Posts[0].Images)
	assert.Equal(t, "Baustelle", queue.Posts[0].Text)

	_, err = s.client.SyncNow(ctx)
	assert.Equal(t, codes.FailedPrecondition, codeOf(err), "SyncNow offline")

	require.NoError(t, s.client.SetFavorite(ctx, api.FavoriteRequest{TeamID: "t1", DisplayName: "Bauteam", Favorite: true}))
	teams, err := s.client.ListTeams(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(favorites.SourceCache), teams.Source)
	require.Len(t, teams.Teams, 1)
	assert.True(t, teams.Teams[0].Favorite)

	_, err = s.client.ListChannels(ctx, "t1")
	assert.Equal(t, codes.NotFound, codeOf(err), "ListChannels uncached")
	_, err = s.client.ListChannels(ctx, "")
	assert.Equal(t, codes.InvalidArgument, codeOf(err), "ListChannels empty team")
}

func TestWatchQueueStreamsChanges(t *testing.T) {
	s := newStack(t, "http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan api.QueueEvent, 8)
	go func() {
		_ = s.client.WatchQueue(ctx, func(evt api.QueueEvent) error {
			events <- evt
			return nil
		})
	}()

	// The stream subscribes asynchronously; keep submitting until an event
	// arrives.
	deadline := time.After(3 * time.Second)
	for {
		_, err := s.client.Submit(ctx, capture("hallo"))
		require.NoError(t, err)
		select {
		case evt := <-events:
			assert.Equal(t, bus.KindQueueChanged, evt.Kind)
			assert.Equal(t, intsync.ReasonSaved, evt.Reason)
			assert.NotEmpty(t, evt.EventID)
			assert.Equal(t, "test", evt.Session)
			assert.NotZero(t, evt.Pending)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			require.FailNow(t, "no queue event")
		}
	}
}

// TestStatusTracksConnectivity verifies the API reflects the two
// connectivity inputs, and that the daemon leaves BOOTING on the first one.
func TestStatusTracksConnectivity(t *testing.T) {
	s := newStack(t, "http://127.0.0.1:1")
	ctx := context.Background()

	steps := []struct {
		apply func()
		want  status.State
	}{
		{func() { s.monitor.SetOnline(true) }, status.AuthRequired},
		{func() { s.monitor.SetAuthenticated(true) }, status.Online},
		{func() { s.monitor.SetOnline(false) }, status.Offline},
	}
	for _, step := range steps {
		step.apply()
		st, err := s.client.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(step.want), st.State)
	}
}

func TestSyncNowDrainsQueue(t *testing.T) {
	fg := newFakeGraph(t)
	s := newStack(t, fg.srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, text := range []string{"eins", "zwei"} {
		_, err := s.client.Submit(ctx, capture(text, api.File{Name: text + ".jpg", Data: []byte("x")}))
		require.NoError(t, err)
	}

	s.signIn(t)

	res, err := s.client.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, 2, fg.posted())

	st, err := s.client.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastDrain)
	assert.Equal(t, 2, st.LastDrain.Synced)
}

// TestSubmitOnSlowGraphAnswersQueued posts while online against a Graph that
// takes longer than the caller is willing to wait. The caller still gets the
// saved post back, and the post is delivered afterwards.
func TestSubmitOnSlowGraphAnswersQueued(t *testing.T) {
	fg := newSlowGraph(t, time.Second)
	s := newStack(t, fg.srv.URL)
	s.signIn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	resp, err := s.client.Submit(ctx, capture("langsam", api.File{Name: "a.jpg", Data: []byte("x")}))
	require.NoError(t, err)
	assert.Equal(t, string(intsync.OutcomeQueued), resp.Outcome)
	assert.NotZero(t, resp.PostID)
	assert.NotEmpty(t, resp.ClientID)

	require.Eventually(t, func() bool {
		n, err := s.db.CountPosts(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond, "post not delivered in the background")
	assert.Equal(t, 1, fg.posted())
}

func TestLoginWithoutClientIDReportsConfiguration(t *testing.T) {
	s := newStackFor(t, "http://127.0.0.1:1", "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []api.LoginEvent
	require.NoError(t, s.client.Login(ctx, func(evt api.LoginEvent) error {
		events = append(events, evt)
		return nil
	}))
	require.Len(t, events, 1)
	assert.Equal(t, api.LoginError, events[0].Type)
	assert.Contains(t, events[0].Message, "auth.client_id")
}

func TestLogoutDropsAccount(t *testing.T) {
	s := newStack(t, "http://127.0.0.1:1")
	ctx := context.Background()
	require.NoError(t, s.db.SetValue(ctx, "auth.token", testToken))

	signedIn := make(chan bool, 1)
	s.auth.OnAccountChange(func(v bool) { signedIn <- v })
	require.True(t, s.auth.HasAccount(ctx), "expected stored account")
	require.NoError(t, s.client.Logout(ctx))
	assert.False(t, s.auth.HasAccount(ctx), "account still present after logout")
	select {
	case v := <-signedIn:
		assert.False(t, v, "change hook reported signed in")
	case <-time.After(time.Second):
		assert.Fail(t, "change hook not called")
	}
}

func TestMetricsServerRoutes(t *testing.T) {
	b := bus.New()
	mon := connectivity.NewMonitor(b, status.NewMachine(b), zap.NewNop())
	ms := NewMetricsServer(&config.Config{}, metrics.New(), mon, zap.NewNop())
	srv := httptest.NewServer(ms.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	_ = resp.Body.Close()
	assert.Equal(t, string(status.Booting), health["state"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Disabled without an address.
	ms.Start()
	ms.Stop(context.Background())
}

// TestFxModuleWiring verifies the fx dependency graph resolves and the
// daemon starts and stops cleanly.
func TestFxModuleWiring(t *testing.T) {
	fg := newFakeGraph(t)
	tmpDir, err := os.MkdirTemp("/tmp", "tpost-fx-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(tmpDir) }()
	t.Setenv("TPOST_HOME", tmpDir)

	cfg := config.Default()
	cfg.Graph.BaseURL = fg.srv.URL
	cfg.Network.ProbeURL = fg.srv.URL
	socketPath := filepath.Join(tmpDir, "d.sock")

	app := fxtest.New(t, Module(Params{SessionName: "fxtest", SocketPath: socketPath, Config: cfg}))
	app.RequireStart()

	client, err := api.Dial(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	var st *api.Status
	require.Eventually(t, func() bool {
		st, err = client.GetStatus(context.Background())
		return err == nil && st.State == string(status.AuthRequired)
	}, 3*time.Second, 20*time.Millisecond, "want AUTH_REQUIRED once the network is reachable")
	assert.Equal(t, config.ModeDrive, st.Mode)

	app.RequireStop()

	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket left behind: %v", err)
	assert.FileExists(t, filepath.Join(tmpDir, "sessions", "fxtest", "tpost.db"))
	data, err := os.ReadFile(filepath.Join(tmpDir, "sessions", "fxtest", "logs", "tpostd.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "daemon stopped")
}
