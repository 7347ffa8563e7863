package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/tpost/internal/graph"
)

// fakeDrive is an in-memory document library behind a gorilla/mux router.
type fakeDrive struct {
	mu        sync.Mutex
	srv       *httptest.Server
	folders   map[string]bool
	files     map[string][]byte
	calls     []string
	ranges    []string
	chunkAuth []string
	failChunk int // 1-based chunk index that answers 500
	createErr int // status returned by folder create, 0 for success
	chunks    int
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()
	fd := &fakeDrive{folders: map[string]bool{}, files: map[string][]byte{}}
	r := mux.NewRouter()
	r.PathPrefix("/v1.0/sites/s1/drive/root").HandlerFunc(fd.serveDrive)
	r.HandleFunc("/upload/{id}", fd.serveChunk)
	fd.srv = httptest.NewServer(r)
	t.Cleanup(fd.srv.Close)
	return fd
}

func (fd *fakeDrive) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(graph.New(fd.srv.URL+"/v1.0"), opts...)
	require.NoError(t, err)
	return c
}

// set mutates the fake under its lock.
func (fd *fakeDrive) set(f func()) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	f()
}

type driveLog struct {
	calls     []string
	ranges    []string
	chunkAuth []string
	chunks    int
	folders   map[string]bool
	files     map[string][]byte
}

func (fd *fakeDrive) snapshot() driveLog {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	l := driveLog{
		calls:     append([]string(nil), fd.calls...),
		ranges:    append([]string(nil), fd.ranges...),
		chunkAuth: append([]string(nil), fd.chunkAuth...),
		chunks:    fd.chunks,
		folders:   map[string]bool{},
		files:     map[string][]byte{},
	}
	for k, v := range fd.folders {
		l.folders[k] = v
	}
	for k, v := range fd.files {
		l.files[k] = v
	}
	return l
}

func (fd *fakeDrive) record(r *http.Request) {
	fd.calls = append(fd.calls, r.Method+" "+r.URL.EscapedPath())
}

func (fd *fakeDrive) serveDrive(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.record(r)

	rest := strings.TrimPrefix(r.URL.Path, "/v1.0/sites/s1/drive/root")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/children"):
		if fd.createErr != 0 {
			http.Error(w, "create refused", fd.createErr)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		parent := strings.TrimSuffix(strings.TrimPrefix(rest, ":/"), ":/children")
		parent = strings.TrimSuffix(parent, "/children")
		name := fmt.Sprint(body["name"])
		full := name
		if parent != "" {
			full = parent + "/" + name
		}
		fd.folders[full] = true
		writeJSON(w, http.StatusCreated, map[string]string{"id": "f-" + name, "name": name})

	case r.Method == http.MethodPost && strings.HasSuffix(rest, ":/createUploadSession"):
		name := strings.TrimSuffix(strings.TrimPrefix(rest, ":/"), ":/createUploadSession")
		writeJSON(w, http.StatusOK, map[string]string{"uploadUrl": fd.srv.URL + "/upload/" + strings.ReplaceAll(name, "/", "_")})
		fd.files[name] = []byte{}

	case r.Method == http.MethodPut && strings.HasSuffix(rest, ":/content"):
		name := strings.TrimSuffix(strings.TrimPrefix(rest, ":/"), ":/content")
		data, _ := io.ReadAll(r.Body)
		fd.files[name] = data
		writeJSON(w, http.StatusCreated, map[string]string{"id": "file"})

	case r.Method == http.MethodGet:
		p := strings.TrimPrefix(rest, ":/")
		if fd.folders[p] {
			writeJSON(w, http.StatusOK, map[string]any{"id": p, "folder": map[string]any{}})
			return
		}
		if _, ok := fd.files[p]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"webUrl": "https://contoso.example/" + p})
			return
		}
		http.Error(w, `{"error":{"code":"itemNotFound"}}`, http.StatusNotFound)

	default:
		http.Error(w, "unexpected", http.StatusBadRequest)
	}
}

func (fd *fakeDrive) serveChunk(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.record(r)
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	fd.chunks++
	fd.ranges = append(fd.ranges, r.Header.Get("Content-Range"))
	fd.chunkAuth = append(fd.chunkAuth, r.Header.Get("Authorization"))
	_, _ = io.Copy(io.Discard, r.Body)
	if fd.chunks == fd.failChunk {
		http.Error(w, "chunk rejected", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFolderPathFor(t *testing.T) {
	assert.Equal(t, "General/Bilder", FolderPathFor("General"))
	assert.Equal(t, FolderPathFor("General"), FolderPathFor("General"))
	assert.Equal(t, "General/Bilder/Events", SubFolderPath("General", "/Events/"))
	assert.Equal(t, "General/Bilder", SubFolderPath("General", ""))
}

func TestFolderExists(t *testing.T) {
	fd := newFakeDrive(t)
	fd.set(func() { fd.folders["General"] = true })
	c := fd.client(t)
	ctx := context.Background()

	assert.True(t, c.FolderExists(ctx, "tok", "s1", "General"))
	assert.False(t, c.FolderExists(ctx, "tok", "s1", "Missing"))
	assert.False(t, c.FolderExists(ctx, "tok", "other-site", "General"))
}

func TestCreateFolderPostsToParent(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t)
	ctx := context.Background()

	require.NoError(t, c.CreateFolder(ctx, "tok", "s1", "General"))
	require.NoError(t, c.CreateFolder(ctx, "tok", "s1", "General/Bilder"))

	log := fd.snapshot()
	assert.Equal(t, []string{
		"POST /v1.0/sites/s1/drive/root/children",
		"POST /v1.0/sites/s1/drive/root:/General:/children",
	}, log.calls)
	assert.True(t, log.folders["General/Bilder"])
}

func TestCreateFolderFailureIsRemoteError(t *testing.T) {
	fd := newFakeDrive(t)
	fd.set(func() { fd.createErr = http.StatusInternalServerError })
	c := fd.client(t)

	err := c.CreateFolder(context.Background(), "tok", "s1", "General/Bilder")
	var re *graph.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Contains(t, re.Body, "create refused")
}

func TestEnsureFolderCreatesOnlyMissingLevels(t *testing.T) {
	fd := newFakeDrive(t)
	fd.set(func() { fd.folders["General"] = true })
	c := fd.client(t)

	require.NoError(t, c.EnsureFolder(context.Background(), "tok", "s1", "General/Bilder"))
	assert.Equal(t, []string{
		"GET /v1.0/sites/s1/drive/root:/General",
		"GET /v1.0/sites/s1/drive/root:/General/Bilder",
		"POST /v1.0/sites/s1/drive/root:/General:/children",
	}, fd.snapshot().calls)
}

func TestEnsureFolderTreatsConflictAsCreated(t *testing.T) {
	fd := newFakeDrive(t)
	fd.set(func() { fd.createErr = http.StatusConflict })
	c := fd.client(t)

	assert.NoError(t, c.EnsureFolder(context.Background(), "tok", "s1", "General/Bilder"))
}

func TestUploadSmallFile(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t)

	url, err := c.UploadSmallFile(context.Background(), "tok", "s1", File{Name: "a.jpg", Data: []byte("jpeg")}, "General/Bilder")
	require.NoError(t, err)
	assert.Equal(t, "https://contoso.example/General/Bilder/a.jpg", url)
	log := fd.snapshot()
	assert.Equal(t, []byte("jpeg"), log.files["General/Bilder/a.jpg"])
	assert.Equal(t, []string{
		"PUT /v1.0/sites/s1/drive/root:/General/Bilder/a.jpg:/content",
		"GET /v1.0/sites/s1/drive/root:/General/Bilder/a.jpg",
	}, log.calls)
}

func TestUploadLargeFileChunks(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t)
	size := ChunkAlignment*3 + 100

	url, err := c.UploadLargeFile(context.Background(), "tok", "s1", File{Name: "big.jpg", Data: make([]byte, size)}, "General/Bilder")
	require.NoError(t, err)
	assert.Equal(t, "https://contoso.example/General/Bilder/big.jpg", url)

	log := fd.snapshot()
	require.GreaterOrEqual(t, log.chunks, 3)
	assert.Equal(t, []string{
		fmt.Sprintf("bytes 0-%d/%d", ChunkAlignment-1, size),
		fmt.Sprintf("bytes %d-%d/%d", ChunkAlignment, 2*ChunkAlignment-1, size),
		fmt.Sprintf("bytes %d-%d/%d", 2*ChunkAlignment, 3*ChunkAlignment-1, size),
		fmt.Sprintf("bytes %d-%d/%d", 3*ChunkAlignment, size-1, size),
	}, log.ranges)
	for _, auth := range log.chunkAuth {
		assert.Empty(t, auth, "chunk PUTs must not carry the bearer token")
	}
	// The confirmation GET comes after every chunk.
	assert.Equal(t, "GET /v1.0/sites/s1/drive/root:/General/Bilder/big.jpg", log.calls[len(log.calls)-1])
	assert.Contains(t, log.calls[0], ":/createUploadSession")
}

func TestUploadLargeFileAbortsOnChunkFailure(t *testing.T) {
	fd := newFakeDrive(t)
	fd.set(func() { fd.failChunk = 2 })
	c := fd.client(t)

	_, err := c.UploadLargeFile(context.Background(), "tok", "s1", File{Name: "big.jpg", Data: make([]byte, ChunkAlignment*3)}, "General/Bilder")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, graph.StatusOf(err))
	log := fd.snapshot()
	assert.Equal(t, 2, log.chunks, "no chunk after the failed one")
	last := log.calls[len(log.calls)-1]
	assert.True(t, strings.HasPrefix(last, "DELETE /upload/"), "session cancelled, got %s", last)
}

func TestUploadPicksStrategyBySize(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t, WithLargeFileThreshold(1000))
	ctx := context.Background()

	_, err := c.Upload(ctx, "tok", "s1", File{Name: "small.jpg", Data: make([]byte, 1000)}, "General/Bilder")
	require.NoError(t, err)
	assert.Equal(t, 0, fd.snapshot().chunks)

	_, err = c.Upload(ctx, "tok", "s1", File{Name: "large.jpg", Data: make([]byte, 1001)}, "General/Bilder")
	require.NoError(t, err)
	assert.Equal(t, 1, fd.snapshot().chunks)
}

func TestUploadNormalizesAndEscapesNames(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t)

	_, err := c.UploadSmallFile(context.Background(), "tok", "s1", File{Name: "Café 1.jpg", Data: []byte("x")}, "Q&A/Bilder")
	require.NoError(t, err)
	assert.Equal(t, "PUT /v1.0/sites/s1/drive/root:/Q&A/Bilder/Caf%C3%A9%201.jpg:/content", fd.snapshot().calls[0])
}

func TestListSubFolders(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1.0/sites/s1/drive/root:/General/Bilder:/children", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{
			{"id": "1", "name": "Events", "folder": map[string]any{"childCount": 2}},
			{"id": "2", "name": "photo.jpg", "file": map[string]any{}},
		}})
	})
	r.HandleFunc("/v1.0/sites/s1/drive/root:/Random/Bilder:/children", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	c, err := New(graph.New(srv.URL + "/v1.0"))
	require.NoError(t, err)

	folders, err := c.ListSubFolders(context.Background(), "tok", "s1", "General/Bilder")
	require.NoError(t, err)
	assert.Equal(t, []SubFolder{{ID: "1", Name: "Events"}}, folders)

	folders, err = c.ListSubFolders(context.Background(), "tok", "s1", "Random/Bilder")
	require.NoError(t, err)
	assert.NotNil(t, folders)
	assert.Empty(t, folders)
}

func TestWithChunkSizeRejectsUnaligned(t *testing.T) {
	_, err := New(graph.New("http://x"), WithChunkSize(1000))
	assert.Error(t, err)
	_, err = New(graph.New("http://x"), WithChunkSize(0))
	assert.Error(t, err)
	_, err = New(graph.New("http://x"), WithChunkSize(2*ChunkAlignment))
	assert.NoError(t, err)
}
