package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/qr"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
	"github.com/dharsanguruparan/nexuspass/internal/signing"
	"github.com/dharsanguruparan/nexuspass/internal/storage"
)

type testEnv struct {
	handler   http.Handler
	server    *Server
	dir       *storage.MemoryDirectory
	artifacts *storage.MemoryArtifacts
}

type stubDispatcher struct {
	batches []queue.GeneratePayload
	err     error
}

func (d *stubDispatcher) Dispatch(_ context.Context, p queue.GeneratePayload) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.batches = append(d.batches, p)
	return p.BatchID, nil
}

func newTestEnv(t *testing.T, scheme qr.Scheme, dispatcher Dispatcher, people ...model.Attendee) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Address:       ":0",
		CodeBucket:    "test",
		PayloadScheme: string(scheme),
		CodeSize:      qr.DefaultSize,
		MaxFrameSize:  1 << 20,
		SignedURLTTL:  time.Minute,
	}
	dir := storage.NewMemoryDirectory()
	for i := range people {
		if err := dir.Create(context.Background(), &people[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	artifacts := storage.NewMemoryArtifacts()
	srv := New(cfg, Deps{
		Attendees:  dir,
		Artifacts:  artifacts,
		Generator:  checkin.NewGenerator(dir, artifacts, scheme, qr.NewRenderer(cfg.CodeSize)),
		Desk:       checkin.NewDesk(dir, scheme, qr.NewDecoder()),
		Reporter:   checkin.NewReporter(dir),
		Signer:     signing.NewSigner([]byte("test-secret")),
		Dispatcher: dispatcher,
	})
	return &testEnv{handler: srv.Routes(), server: srv, dir: dir, artifacts: artifacts}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	if body == nil {
		return httptest.NewRequest(method, path, nil)
	}
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func frameRequest(t *testing.T, frame []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("frame", "frame.png")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(frame); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/scans", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil)
	assertStatus(t, env.do(t, jsonRequest(http.MethodGet, "/healthz", nil)), http.StatusOK)
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"}, model.Attendee{ID: "B"})

	w := env.do(t, jsonRequest(http.MethodPost, "/codes/generate", nil))
	assertStatus(t, w, http.StatusOK)
	var first generateResponse
	decode(t, w, &first)
	if first.Generated != 2 {
		t.Fatalf("expected 2 generated, got %+v", first)
	}

	w = env.do(t, jsonRequest(http.MethodPost, "/codes/generate", nil))
	assertStatus(t, w, http.StatusOK)
	var second generateResponse
	decode(t, w, &second)
	if second.Generated != 0 || second.Message == "" {
		t.Fatalf("expected an explicit zero result, got %+v", second)
	}
}

func TestGenerateEndpointReportsFailure(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"})
	env.artifacts.Fail(context.DeadlineExceeded)
	w := env.do(t, jsonRequest(http.MethodPost, "/codes/generate", nil))
	assertStatus(t, w, http.StatusBadGateway)
	var resp generateResponse
	decode(t, w, &resp)
	if resp.Error == "" || resp.Partial {
		t.Fatalf("expected a non-partial failure, got %+v", resp)
	}
}

func TestGenerateAsync(t *testing.T) {
	d := &stubDispatcher{}
	env := newTestEnv(t, qr.SchemeID, d, model.Attendee{ID: "A"})
	w := env.do(t, jsonRequest(http.MethodPost, "/codes/generate?async=true", nil))
	assertStatus(t, w, http.StatusAccepted)
	if len(d.batches) != 1 || d.batches[0].RequestedBy != "api" {
		t.Fatalf("expected one api batch, got %+v", d.batches)
	}

	d.err = queue.ErrBatchPending
	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/codes/generate?async=1", nil)), http.StatusConflict)

	noQueue := newTestEnv(t, qr.SchemeID, nil)
	assertStatus(t, noQueue.do(t, jsonRequest(http.MethodPost, "/codes/generate?async=true", nil)), http.StatusServiceUnavailable)
}

func TestCheckinOutcomes(t *testing.T) {
	env := newTestEnv(t, qr.SchemeIDName, nil, model.Attendee{ID: "A", Name: "Ada Lovelace"})

	tests := []struct {
		name    string
		payload string
		status  int
		outcome model.Outcome
	}{
		{"first scan", "A Ada Lovelace", http.StatusOK, model.OutcomeMarked},
		{"second scan", "A Ada Lovelace", http.StatusOK, model.OutcomeAlreadyMarked},
		{"unknown", "Z Nobody", http.StatusNotFound, model.OutcomeNotFound},
		{"old single field code", "A", http.StatusUnprocessableEntity, model.OutcomeMalformedPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, jsonRequest(http.MethodPost, "/checkins", checkinRequest{Payload: tc.payload}))
			assertStatus(t, w, tc.status)
			var res model.ScanResult
			decode(t, w, &res)
			if res.Outcome != tc.outcome || res.Category != tc.outcome.Category() || res.Message == "" {
				t.Fatalf("unexpected result %+v", res)
			}
		})
	}

	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/checkins", map[string]string{})), http.StatusBadRequest)
}

func TestCheckinStoreError(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"})
	env.dir.Fail(context.DeadlineExceeded)
	w := env.do(t, jsonRequest(http.MethodPost, "/checkins", checkinRequest{Payload: "A"}))
	assertStatus(t, w, http.StatusBadGateway)
	var res model.ScanResult
	decode(t, w, &res)
	if res.Outcome != model.OutcomeStoreError || res.Error == "" {
		t.Fatalf("expected STORE_ERROR with details, got %+v", res)
	}
}

func TestScanFrame(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"})
	png, err := qr.NewRenderer(qr.DefaultSize).Render("A")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	w := env.do(t, frameRequest(t, png))
	assertStatus(t, w, http.StatusOK)
	var resp scanResponse
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Outcome != model.OutcomeMarked {
		t.Fatalf("expected one MARKED result, got %+v", resp)
	}

	w = env.do(t, frameRequest(t, png))
	assertStatus(t, w, http.StatusOK)
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Outcome != model.OutcomeAlreadyMarked {
		t.Fatalf("expected ALREADY_MARKED on rescan, got %+v", resp)
	}
}

func TestScanRejectsNonImage(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil)
	assertStatus(t, env.do(t, frameRequest(t, []byte("not an image"))), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/scans", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "image/png")
	assertStatus(t, env.do(t, req), http.StatusBadRequest)
}

type failingDecoder struct{ err error }

func (f failingDecoder) Decode([]byte) ([]string, error) { return nil, f.err }

func TestScanDamagedCode(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"})
	env.server.deps.Desk = checkin.NewDesk(env.dir, qr.SchemeID, failingDecoder{err: fmt.Errorf("%w: checksum", qr.ErrUnreadableCode)})

	w := env.do(t, frameRequest(t, []byte("frame")))
	assertStatus(t, w, http.StatusUnprocessableEntity)
	var resp scanResponse
	decode(t, w, &resp)
	if len(resp.Results) != 0 || resp.Message == "" {
		t.Fatalf("expected an explicit unreadable result, got %+v", resp)
	}
	if a, _ := env.dir.Find(context.Background(), model.Identity{ID: "A"}); a.Attended {
		t.Fatalf("a damaged code must not mark anyone")
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"}, model.Attendee{ID: "B"}, model.Attendee{ID: "C"})
	for _, id := range []string{"A", "C"} {
		if _, err := env.dir.MarkAttended(context.Background(), model.Identity{ID: id}); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
	}
	w := env.do(t, jsonRequest(http.MethodGet, "/stats", nil))
	assertStatus(t, w, http.StatusOK)
	var resp statsResponse
	decode(t, w, &resp)
	if resp.Total != 3 || resp.Attended != 2 || resp.NotAttended != 1 {
		t.Fatalf("unexpected stats %+v", resp.Statistics)
	}
	if len(resp.Breakdown) != 2 {
		t.Fatalf("expected two slices, got %+v", resp.Breakdown)
	}
}

func TestAttendeesEndpoints(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil)
	w := env.do(t, jsonRequest(http.MethodPost, "/attendees", createAttendeeRequest{ID: "A", Name: "Ada"}))
	assertStatus(t, w, http.StatusCreated)
	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/attendees", createAttendeeRequest{ID: "A"})), http.StatusConflict)
	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/attendees", createAttendeeRequest{ID: "A B"})), http.StatusBadRequest)
	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/attendees", createAttendeeRequest{})), http.StatusBadRequest)

	w = env.do(t, jsonRequest(http.MethodGet, "/attendees", nil))
	assertStatus(t, w, http.StatusOK)
	var list []model.Attendee
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != "A" || list[0].Attended {
		t.Fatalf("unexpected attendees %+v", list)
	}
}

func TestSignedCodeDownload(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil, model.Attendee{ID: "A"}, model.Attendee{ID: "B"})
	assertStatus(t, env.do(t, jsonRequest(http.MethodGet, "/attendees/A/code-url", nil)), http.StatusNotFound)
	assertStatus(t, env.do(t, jsonRequest(http.MethodPost, "/codes/generate", nil)), http.StatusOK)

	w := env.do(t, jsonRequest(http.MethodGet, "/attendees/A/code-url", nil))
	assertStatus(t, w, http.StatusOK)
	var link map[string]string
	decode(t, w, &link)
	if link["locator"] != "memory://qrcodes/A.png" {
		t.Fatalf("unexpected locator %q", link["locator"])
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, link["url"], nil))
	assertStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}

	u, _ := url.Parse(link["url"])
	q := u.Query()
	forged := "/codes/B.png?" + q.Encode()
	assertStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, forged, nil)), http.StatusUnauthorized)
	assertStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/codes/A.png", nil)), http.StatusBadRequest)

	env.server.now = func() time.Time { return time.Now().Add(time.Hour) }
	assertStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, link["url"], nil)), http.StatusGone)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, qr.SchemeID, nil)
	assertStatus(t, env.do(t, jsonRequest(http.MethodGet, "/checkins", nil)), http.StatusMethodNotAllowed)
}
