package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/jobs"
	"github.com/MimeLyc/vision2voice/internal/pipeline"
	"github.com/MimeLyc/vision2voice/internal/session"
	"github.com/MimeLyc/vision2voice/internal/settings"
	"github.com/MimeLyc/vision2voice/internal/visionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeRemote struct {
	caption string
	gate    chan struct{}
}

func (f *fakeRemote) Caption(ctx context.Context, _ visionapi.Image) (*visionapi.CaptionResponse, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &visionapi.CaptionResponse{Caption: f.caption}, nil
}

func (f *fakeRemote) Translate(_ context.Context, text, _ string) (*visionapi.TranslateResponse, error) {
	return &visionapi.TranslateResponse{TranslatedText: "[t] " + text}, nil
}

func (f *fakeRemote) Synthesize(context.Context, string, string) (*visionapi.Audio, error) {
	return &visionapi.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg"}, nil
}

type fakeHealth struct {
	err error
}

func (f fakeHealth) Health(context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "healthy"}, nil
}

type testEnv struct {
	server  *Server
	store   *history.ObservedStore
	session *session.Session
	queue   *jobs.Queue
}

func newTestEnv(t *testing.T, remote *fakeRemote, opts ...Option) *testEnv {
	t.Helper()

	sqlite, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	store := history.Observed(sqlite, history.NewHub())

	queue := jobs.NewQueue(1)
	sess := session.New()
	srv := NewServer(queue, sess, store, opts...)
	queue.Start(jobs.PipelineExecutor(pipeline.NewOrchestrator(remote, store)))
	t.Cleanup(queue.Stop)

	return &testEnv{server: srv, store: store, session: sess, queue: queue}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, data []byte, contentType, lang string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="photo.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if lang != "" {
		require.NoError(t, mw.WriteField("language", lang))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/runs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func waitForSession(t *testing.T, sess *session.Session, state session.State) session.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.Snapshot().State == state
	}, 2*time.Second, 10*time.Millisecond)
	return sess.Snapshot()
}

func TestServer_SubmitRunAndListHistory(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{caption: "A lighthouse at dusk"})

	rec := env.do(t, uploadRequest(t, pngHeader, "image/png", "hi"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		Run jobs.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Run.ID)
	assert.Equal(t, "hi", created.Run.Language)

	snap := waitForSession(t, env.session, session.StateDone)
	assert.Equal(t, created.Run.ID, snap.RunID)
	assert.Equal(t, "[t] A lighthouse at dusk", snap.Caption)
	assert.Equal(t, 100, snap.Progress)
	assert.True(t, snap.HasAudio)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/"+created.Run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, jobs.StatusSuccess, run.Status)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []historyItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, snap.RecordID, items[0].ID)
	assert.Equal(t, "[t] A lighthouse at dusk", items[0].Caption)
	assert.True(t, items[0].HasAudio)
	assert.Contains(t, items[0].Remaining, "6d 23h")

	rec = env.do(t, httptest.NewRequest(http.MethodGet, items[0].ImageURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, rec.Body.Bytes())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, items[0].AudioURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("ID3"), rec.Body.Bytes())
}

type failingInsertStore struct {
	history.Store
}

func (failingInsertStore) Insert(context.Context, history.Record) (int64, error) {
	return 0, apperr.NewStorage("history insert failed", errors.New("disk full"))
}

func TestServer_RunAudioServedWhenHistorySaveFails(t *testing.T) {
	sqlite, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	store := failingInsertStore{Store: sqlite}

	queue := jobs.NewQueue(1)
	sess := session.New()
	env := &testEnv{server: NewServer(queue, sess, store), session: sess, queue: queue}
	queue.Start(jobs.PipelineExecutor(pipeline.NewOrchestrator(&fakeRemote{caption: "A quiet harbour"}, store)))
	t.Cleanup(queue.Stop)

	rec := env.do(t, uploadRequest(t, pngHeader, "image/png", "en"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		Run jobs.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	snap := waitForSession(t, sess, session.StateDone)
	assert.True(t, snap.HasAudio)
	assert.True(t, snap.Degraded)
	assert.Zero(t, snap.RecordID)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		RunID    string `json:"run_id"`
		Caption  string `json:"caption"`
		AudioURL string `json:"audio_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, created.Run.ID, view.RunID)
	assert.Equal(t, "A quiet harbour", view.Caption)
	assert.Equal(t, "/api/runs/"+created.Run.ID+"/audio", view.AudioURL)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/"+created.Run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runBody map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runBody))
	assert.Equal(t, view.AudioURL, runBody["audio_url"])
	assert.Equal(t, string(jobs.StatusSuccess), runBody["status"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, view.AudioURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("ID3"), rec.Body.Bytes())

	all, err := sqlite.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestServer_RunAudioNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{caption: "x"})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/missing/audio", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	run := env.queue.Enqueue(jobs.EnqueueRequest{Source: "http"})
	require.Eventually(t, func() bool {
		got, ok := env.queue.Get(run.ID)
		return ok && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/audio", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/image", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SubmitValidationErrors(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{caption: "x"})

	cases := []struct {
		name string
		req  *http.Request
		code string
	}{
		{name: "missing file", req: uploadRequest(t, nil, "", ""), code: apperr.MsgNoImage},
		{name: "not an image", req: uploadRequest(t, []byte("%PDF-1.7"), "application/pdf", ""), code: apperr.MsgInvalidType},
		{name: "bad language", req: uploadRequest(t, pngHeader, "image/png", "??"), code: apperr.MsgInvalidLanguage},
		{name: "not multipart", req: httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader("x")), code: apperr.MsgNoImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}

	snap := env.session.Snapshot()
	assert.Equal(t, session.StateFailed, snap.State)
	assert.True(t, strings.HasPrefix(snap.Announcement, "Error: "))
	assert.Empty(t, env.queue.List())
}

func TestServer_SubmitTooLarge(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{caption: "x"})

	big := append(append([]byte{}, pngHeader...), make([]byte, pipeline.MaxImageBytes)...)
	rec := env.do(t, uploadRequest(t, big, "image/png", ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.MsgTooLarge, body["code"])
	assert.Equal(t, "Image file is too large. Please select an image smaller than 5MB.", body["error"])
}

func TestServer_SecondSubmitWhileInFlightConflicts(t *testing.T) {
	remote := &fakeRemote{caption: "slow", gate: make(chan struct{})}
	env := newTestEnv(t, remote)

	rec := env.do(t, uploadRequest(t, pngHeader, "image/png", "en"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, uploadRequest(t, pngHeader, "image/png", "en"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(remote.gate)
	waitForSession(t, env.session, session.StateDone)

	rec = env.do(t, uploadRequest(t, pngHeader, "image/png", "en"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_ResetDropsLateResult(t *testing.T) {
	remote := &fakeRemote{caption: "late", gate: make(chan struct{})}
	env := newTestEnv(t, remote)

	rec := env.do(t, uploadRequest(t, pngHeader, "image/png", "en"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/session/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	close(remote.gate)
	require.Eventually(t, func() bool {
		runs := env.queue.List()
		return len(runs) == 1 && runs[0].Status == jobs.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Empty(t, snap.Caption)

	all, err := env.store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestServer_HistoryDeletes(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})
	ctx := context.Background()

	id, err := env.store.Insert(ctx, history.Record{Caption: "one", Image: pngHeader, ImageType: "image/png"})
	require.NoError(t, err)
	_, err = env.store.Insert(ctx, history.Record{Caption: "two"})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history/"+strconv.FormatInt(id, 10)+"/audio", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/history/"+strconv.FormatInt(id, 10), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/history/"+strconv.FormatInt(id, 10), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/history/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	all, err := env.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestServer_HistoryHidesExpired(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})
	ctx := context.Background()

	old, err := env.store.Insert(ctx, history.Record{Caption: "old", Image: pngHeader, Timestamp: time.Now().Add(-8 * 24 * time.Hour)})
	require.NoError(t, err)
	_, err = env.store.Insert(ctx, history.Record{Caption: "new"})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []historyItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Caption)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/history/"+strconv.FormatInt(old, 10)+"/image", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	env := newTestEnv(t, &fakeRemote{}, WithSettingsStore(store))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, settings.Defaults(), got)

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"theme":"dark","language":"ta"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.ThemeDark, store.Get().Theme)
	assert.Equal(t, "ta", store.Get().Language)

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"theme":"neon"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Uploads without a language field fall back to the saved preference.
	rec = env.do(t, uploadRequest(t, pngHeader, "image/png", ""))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		Run jobs.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ta", created.Run.Language)
}

func TestServer_SettingsNotConfigured(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Languages(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/languages?q=beng", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var langs []pipeline.Language
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &langs))
	require.Len(t, langs, 1)
	assert.Equal(t, "bn", langs[0].Code)
	assert.Equal(t, "বাংলা", langs[0].NativeName)
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{}, WithRemoteHealth(fakeHealth{}))
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	env = newTestEnv(t, &fakeRemote{}, WithRemoteHealth(fakeHealth{err: apperr.NewConnectivity("down", errors.New("refused"))}))
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/api/runs"},
		{http.MethodPost, "/api/session"},
		{http.MethodGet, "/api/session/reset"},
		{http.MethodPost, "/api/history/1/image"},
		{http.MethodGet, "/api/history/1"},
	} {
		rec := env.do(t, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, tc.method+" "+tc.path)
	}
}

func TestServer_StreamEmitsSessionAndHistoryEvents(t *testing.T) {
	env := newTestEnv(t, &fakeRemote{})
	env.server.sessionInterval = time.Hour

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/history/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	assert.Equal(t, "session", name)
	assert.Contains(t, data, `"state":"idle"`)

	require.Eventually(t, func() bool {
		return env.store.Hub().Subscribers() == 1
	}, time.Second, 10*time.Millisecond)

	id, err := env.store.Insert(context.Background(), history.Record{Caption: "streamed"})
	require.NoError(t, err)

	name, data = readEvent(t, reader)
	assert.Equal(t, "history", name)
	var ev history.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, history.EventInserted, ev.Kind)
	assert.Equal(t, id, ev.ID)
}

func readEvent(t *testing.T, r *bufio.Reader) (name, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}
