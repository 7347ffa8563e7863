package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/graph"
)

type fakeLists struct {
	srv     *httptest.Server
	items   chan map[string]any
	meCalls atomic.Int32
	fail    bool
}

func newFakeLists(t *testing.T, fail bool) *fakeLists {
	t.Helper()
	fl := &fakeLists{items: make(chan map[string]any, 10), fail: fail}
	r := mux.NewRouter()
	r.HandleFunc("/me", func(w http.ResponseWriter, req *http.Request) {
		fl.meCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "mail": "ann@contoso.com"})
	})
	r.HandleFunc("/sites/{site}/lists/{list}/items", func(w http.ResponseWriter, req *http.Request) {
		if fl.fail {
			http.Error(w, "list locked", http.StatusLocked)
			return
		}
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		fl.items <- body.Fields
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}).Methods(http.MethodPost)
	fl.srv = httptest.NewServer(r)
	t.Cleanup(fl.srv.Close)
	return fl
}

func TestRecordWritesFields(t *testing.T) {
	fl := newFakeLists(t, false)
	l := New(graph.New(fl.srv.URL), "site", "list", "tpost", nil, zap.NewNop())
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 5, 7, 0, time.Local) }

	l.Record(context.Background(), "tok", Entry{PhotoCount: 2, TotalBytes: 3 * 1024 * 1024 / 2, TargetTeam: "Field Ops"})
	l.Record(context.Background(), "tok", Entry{PhotoCount: 1, TargetTeam: "Field Ops", Err: &graph.RemoteError{Op: "upload file", Status: 500, Body: "<b>boom</b>"}})

	ok := <-fl.items
	assert.Equal(t, "Upload by ann@contoso.com", ok["Title"])
	assert.Equal(t, "2026-03-01 09:05:07", ok["Logtime"])
	assert.Equal(t, 2.0, ok["PhotoCount"])
	assert.Equal(t, 1.5, ok["TotalSizeMB"])
	assert.Equal(t, "Field Ops", ok["TargetTeam"])
	assert.Equal(t, StatusSuccess, ok["Status"])
	assert.Equal(t, "", ok["ErrorMessage"])
	assert.Equal(t, "tpost", ok["SourceUrl"])

	failed := <-fl.items
	assert.Equal(t, StatusError, failed["Status"])
	assert.Equal(t, "upload file: 500 boom", failed["ErrorMessage"])

	assert.Equal(t, int32(1), fl.meCalls.Load(), "user email is cached")
}

func TestRecordSwallowsFailures(t *testing.T) {
	fl := newFakeLists(t, true)
	l := New(graph.New(fl.srv.URL), "site", "list", "tpost", nil, zap.NewNop())

	require.NotPanics(t, func() {
		l.Record(context.Background(), "tok", Entry{Err: errors.New("x")})
	})
}

func TestDisabledWithoutList(t *testing.T) {
	fl := newFakeLists(t, false)
	l := New(graph.New(fl.srv.URL), "site", "", "tpost", nil, zap.NewNop())
	assert.False(t, l.Enabled())

	l.Record(context.Background(), "tok", Entry{PhotoCount: 1})
	assert.Empty(t, fl.items)
	assert.Equal(t, int32(0), fl.meCalls.Load())

	var nilLogger *Logger
	assert.False(t, nilLogger.Enabled())
	nilLogger.Record(context.Background(), "tok", Entry{})
}
