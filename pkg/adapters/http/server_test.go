package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley"
	parleyhttp "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/observability"
)

const startBody = `{"graph_id":"tavern","participants":[
	{"role":"initiator","actor_id":"hero","authoritative":true},
	{"role":"responder","actor_id":"barkeep"}]}`

func newHandler(t *testing.T, opts ...parley.Option) (*parley.Engine, http.Handler) {
	t.Helper()
	b := dsl.New("tavern")
	b.Add("start").Start().Go("greet")
	b.Add("greet").Line("barkeep", "tavern.greet").Go("offer")
	b.Add("offer").Branch("tavern.offer").
		Go("ale", dsl.Label("An ale"), dsl.Priority(1)).
		Go("leave", dsl.Label("Nothing"))
	b.Add("ale").Line("barkeep", "tavern.ale").Go("leave")
	b.Add("leave").End()

	loader, err := memory.NewLoader(b.Build())
	require.NoError(t, err)
	eng, err := parley.New(context.Background(), "", append([]parley.Option{parley.WithLoader(loader)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng, parleyhttp.NewHandler(eng, eng.Catalog(), eng.Coordinator(), parleyhttp.WithKeepAlive(50*time.Millisecond))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) *domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap), w.Body.String())
	return &snap
}

func TestServer_Conversation(t *testing.T) {
	_, h := newHandler(t)

	w := do(t, h, "POST", "/instances", startBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := decodeSnapshot(t, w)
	id := snap.InstanceID
	assert.Equal(t, "start", snap.CurrentNodeID)

	w = do(t, h, "POST", "/instances/"+id+"/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "greet", decodeSnapshot(t, w).CurrentNodeID)

	w = do(t, h, "POST", "/instances/"+id+"/advance", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeSnapshot(t, w)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	require.NotNil(t, snap.Pause)
	assert.Len(t, snap.Pause.Choices, 2)

	w = do(t, h, "POST", "/instances/"+id+"/advance", `{"choice":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp parleyhttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Error, "invalid choice")

	w = do(t, h, "POST", "/instances/"+id+"/advance", `{"choice":"ale"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ale", decodeSnapshot(t, w).CurrentNodeID)

	w = do(t, h, "GET", "/instances/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ale", decodeSnapshot(t, w).CurrentNodeID)

	w = do(t, h, "POST", "/instances/"+id+"/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusCompleted, decodeSnapshot(t, w).Status)

	w = do(t, h, "GET", "/instances/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_PauseResumeAbort(t *testing.T) {
	_, h := newHandler(t)
	id := decodeSnapshot(t, do(t, h, "POST", "/instances", startBody)).InstanceID

	w := do(t, h, "POST", "/instances/"+id+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code, "resuming a running instance")

	w = do(t, h, "POST", "/instances/"+id+"/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusPaused, decodeSnapshot(t, w).Status)

	w = do(t, h, "POST", "/instances/"+id+"/resume", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "POST", "/instances/"+id+"/abort", `{"reason":"player left\u001b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, domain.ReasonCancelled, snap.Reason)
}

func TestServer_StartErrors(t *testing.T) {
	_, h := newHandler(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing graph", `{"participants":[]}`, http.StatusBadRequest},
		{"unknown graph", `{"graph_id":"nope","participants":[]}`, http.StatusNotFound},
		{"no responder", `{"graph_id":"tavern","participants":[{"role":"initiator","actor_id":"solo"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/instances", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := do(t, h, "POST", "/instances/ghost/restore", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code, "no session manager configured")
}

func TestServer_ReleaseActor(t *testing.T) {
	_, h := newHandler(t)
	id := decodeSnapshot(t, do(t, h, "POST", "/instances", startBody)).InstanceID

	assert.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/actors/barkeep", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "DELETE", "/actors/ghost", "").Code)

	w := do(t, h, "POST", "/instances/"+id+"/advance", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	var errResp parleyhttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, string(domain.ReasonParticipantLost), errResp.Reason)
	require.NotNil(t, errResp.Snapshot)
	assert.Equal(t, domain.StatusAborted, errResp.Snapshot.Status)
}

func TestServer_Graphs(t *testing.T) {
	_, h := newHandler(t)

	w := do(t, h, "GET", "/graphs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var infos []parleyhttp.GraphInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "tavern", infos[0].ID)
	assert.Equal(t, "start", infos[0].Start)
	assert.Equal(t, 1, infos[0].Revision)

	w = do(t, h, "GET", "/graphs/tavern", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"tavern"`)

	w = do(t, h, "GET", "/graphs/tavern?format=mermaid", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "graph TD"))

	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/graphs/nope", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)
	assert.Contains(t, do(t, h, "GET", "/openapi.yaml", "").Body.String(), "openapi: 3.0.3")
}

func TestServer_EventsBadSince(t *testing.T) {
	_, h := newHandler(t)
	id := decodeSnapshot(t, do(t, h, "POST", "/instances", startBody)).InstanceID

	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/instances/"+id+"/events?since=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/instances/ghost/events", "").Code)
}

func TestServer_EventStream(t *testing.T) {
	_, h := newHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	id := decodeSnapshot(t, do(t, h, "POST", "/instances", startBody)).InstanceID

	resp, err := http.Get(srv.URL + "/instances/" + id + "/events?since=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan domain.Frame, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok && data != "connected" {
				var f domain.Frame
				if json.Unmarshal([]byte(data), &f) == nil {
					frames <- f
				}
			}
		}
	}()

	first := <-frames
	require.NotNil(t, first.Snapshot, "a fresh subscription starts with the full state")
	assert.Equal(t, "start", first.Snapshot.CurrentNodeID)

	post := func(path, body string) {
		req, _ := http.NewRequest("POST", srv.URL+path, bytes.NewBufferString(body))
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		r.Body.Close()
	}
	post("/instances/"+id+"/advance", "")
	post("/instances/"+id+"/advance", "")
	post("/instances/"+id+"/advance", `{"choice":"leave"}`)

	var seqs []uint64
	var last domain.Frame
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case f, ok := <-frames:
			if !ok {
				done = true
				break
			}
			seqs = append(seqs, f.Seq)
			last = f
		case <-timeout:
			t.Fatal("stream did not end after the terminal frame")
		}
	}
	assert.Equal(t, []uint64{2, 3, 4}, seqs)
	assert.True(t, last.Terminal())
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	eng, _ := newHandler(t, parley.WithLifecycleHooks(m.Hooks()))
	h := parleyhttp.NewHandler(eng, eng.Catalog(), eng.Coordinator(),
		parleyhttp.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	require.Equal(t, http.StatusCreated, do(t, h, "POST", "/instances", startBody).Code)

	w := do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "parley_instances_started_total 1")
}
