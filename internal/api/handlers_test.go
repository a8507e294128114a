package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"plugd/internal/media"
	"plugd/internal/session"
	"plugd/internal/storage"
	"plugd/internal/ytdlp"
)

// --- mocks ---

type mockAnalyzer struct {
	summary    string
	answer     string
	summaryErr error
	answerErr  error
}

func (m *mockAnalyzer) Summarize(_ context.Context, _ string) (string, error) {
	return m.summary, m.summaryErr
}

func (m *mockAnalyzer) Respond(_ context.Context, _ string, _ []storage.ChatTurn, _ string) (string, error) {
	return m.answer, m.answerErr
}

func (m *mockAnalyzer) Release(_ context.Context, _ string) {}

type mockFetcher struct {
	probeErr error
	fetchErr error
	payload  string
}

func (m *mockFetcher) Probe(_ context.Context, _ string) (ytdlp.Metadata, error) {
	return ytdlp.Metadata{}, m.probeErr
}

func (m *mockFetcher) Fetch(_ context.Context, _ string, dest string) error {
	if m.fetchErr != nil {
		return m.fetchErr
	}
	return os.WriteFile(dest, []byte(m.payload), 0o644)
}

// --- helpers ---

func newTestHandler(t *testing.T, analyzer *mockAnalyzer, fetcher *mockFetcher) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ing, err := media.NewIngestor(store, fetcher, t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("creating ingestor: %v", err)
	}

	mgr := session.NewManager(store, analyzer, ing, 0, 0)

	h := NewHandler(Deps{
		Manager:        mgr,
		Ingestor:       ing,
		MaxUploadBytes: 1 << 20,
	})
	return h, store
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fmt.Fprint(fw, content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func uploadVideo(t *testing.T, h http.Handler) string {
	t.Helper()
	body, ct := multipartUpload(t, "clip.mp4", "not really mpeg4 but close enough")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/videos", body)
	req.Header.Set("Content-Type", ct)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, want %d (body: %s)", rr.Code, http.StatusCreated, rr.Body)
	}
	var resp sessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	if resp.Status != storage.StatusPending {
		t.Fatalf("fresh session status = %q, want %q", resp.Status, storage.StatusPending)
	}
	return resp.ID
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func errType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestUploadCreatesPendingSession(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	id := uploadVideo(t, h)

	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.Status != storage.StatusPending {
		t.Errorf("status = %q, want %q", sess.Status, storage.StatusPending)
	}
	if sess.Origin != "clip.mp4" {
		t.Errorf("origin = %q, want clip.mp4", sess.Origin)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	body, ct := multipartUpload(t, "malware.exe", "nope")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/videos", body)
	req.Header.Set("Content-Type", ct)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errType(t, rr); got != "invalid_media" {
		t.Errorf("error type = %q, want invalid_media", got)
	}

	sessions, _ := store.ListSessions()
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(sessions))
	}
}

func TestUploadOversizedBodyReportsSizeExceeded(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	// Well past the multipart reader's hard limit, not just past the media cap.
	body, ct := multipartUpload(t, "huge.mp4", strings.Repeat("x", (2<<20)+4096))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/videos", body)
	req.Header.Set("Content-Type", ct)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
	if got := errType(t, rr); got != "size_exceeded" {
		t.Errorf("error type = %q, want size_exceeded", got)
	}

	sessions, _ := store.ListSessions()
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(sessions))
	}
}

func TestUploadMissingField(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := postJSON(h, "/videos", `{"not":"multipart"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadURLCreatesSession(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{payload: "downloaded bytes"})

	rr := postJSON(h, "/videos/url", `{"url":"https://www.youtube.com/watch?v=abc"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, http.StatusCreated, rr.Body)
	}

	var resp sessionResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Source != storage.SourceURL {
		t.Errorf("source = %q, want %q", resp.Source, storage.SourceURL)
	}

	if _, err := store.GetSession(resp.ID); err != nil {
		t.Errorf("session not persisted: %v", err)
	}
}

func TestUploadURLUnsupportedHost(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := postJSON(h, "/videos/url", `{"url":"https://example.com/video"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errType(t, rr); got != "unsupported_source" {
		t.Errorf("error type = %q, want unsupported_source", got)
	}

	sessions, _ := store.ListSessions()
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(sessions))
	}
}

func TestUploadURLDownloadFailure(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{
		probeErr: errors.New("no metadata"),
		fetchErr: errors.New("network down"),
	})

	rr := postJSON(h, "/videos/url", `{"url":"https://youtu.be/abc"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if got := errType(t, rr); got != "download_failed" {
		t.Errorf("error type = %q, want download_failed", got)
	}
}

func TestUploadURLMissingURL(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := postJSON(h, "/videos/url", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeTransitionsToReady(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{summary: "a cat plays piano"}, &mockFetcher{})

	id := uploadVideo(t, h)

	rr := postJSON(h, "/videos/"+id+"/analyze", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body)
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Summary != "a cat plays piano" {
		t.Errorf("summary = %q", resp.Summary)
	}

	sess, _ := store.GetSession(id)
	if sess.Status != storage.StatusReady {
		t.Errorf("status = %q, want %q", sess.Status, storage.StatusReady)
	}
	turns, _ := store.ListTurns(id)
	if len(turns) != 1 || turns[0].Role != session.RoleAssistant {
		t.Errorf("turns = %+v, want one assistant turn", turns)
	}
}

func TestAnalyzeFailureIsTerminal(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{summaryErr: errors.New("model exploded")}, &mockFetcher{})

	id := uploadVideo(t, h)

	rr := postJSON(h, "/videos/"+id+"/analyze", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if got := errType(t, rr); got != "analysis_failed" {
		t.Errorf("error type = %q, want analysis_failed", got)
	}

	sess, _ := store.GetSession(id)
	if sess.Status != storage.StatusFailed {
		t.Errorf("status = %q, want %q", sess.Status, storage.StatusFailed)
	}

	// Analyzing a failed session again must not revive it.
	rr = postJSON(h, "/videos/"+id+"/analyze", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("re-analyze status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errType(t, rr); got != "session_not_ready" {
		t.Errorf("error type = %q, want session_not_ready", got)
	}
}

func TestAnalyzeUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := postJSON(h, "/videos/nope/analyze", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if got := errType(t, rr); got != "unknown_session" {
		t.Errorf("error type = %q, want unknown_session", got)
	}
}

func metricValue(t *testing.T, h http.Handler, series string) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if strings.HasPrefix(line, series+" ") {
			return strings.TrimPrefix(line, series+" ")
		}
	}
	return "0"
}

func TestAnalyzeMisuseNotCountedAsFailure(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})
	series := `plugd_analyses_total{outcome="failure"}`

	before := metricValue(t, h, series)
	postJSON(h, "/videos/ghost/analyze", "")
	if after := metricValue(t, h, series); after != before {
		t.Errorf("failure count changed %s -> %s for an unknown session", before, after)
	}

	id := uploadVideo(t, h)
	postJSON(h, "/videos/"+id+"/analyze", "") // pending -> ready
	postJSON(h, "/videos/"+id+"/analyze", "") // not pending anymore
	if after := metricValue(t, h, series); after != before {
		t.Errorf("failure count changed %s -> %s for a non-pending session", before, after)
	}

	// A failure that reached the model is still counted.
	h2, _ := newTestHandler(t, &mockAnalyzer{summaryErr: errors.New("model exploded")}, &mockFetcher{})
	id2 := uploadVideo(t, h2)
	postJSON(h2, "/videos/"+id2+"/analyze", "")
	if after := metricValue(t, h2, series); after == before {
		t.Error("failure count unchanged after a real analysis failure")
	}
}

func TestAnalyzeLogsSuccessOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h, _ := newTestHandler(t, &mockAnalyzer{summary: "brief"}, &mockFetcher{})
	id := uploadVideo(t, h)
	postJSON(h, "/videos/"+id+"/analyze", "")

	if got := strings.Count(buf.String(), "analyzed"); got != 1 {
		t.Errorf("success logged %d times, want 1\nlog:\n%s", got, buf.String())
	}
}

func TestChatAppendsTurnPair(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{summary: "intro", answer: "it is about birds"}, &mockFetcher{})

	id := uploadVideo(t, h)
	postJSON(h, "/videos/"+id+"/analyze", "")

	rr := postJSON(h, "/videos/"+id+"/chat", `{"question":"what is this about?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body)
	}

	var resp struct {
		Answer string `json:"answer"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Answer != "it is about birds" {
		t.Errorf("answer = %q", resp.Answer)
	}

	turns, _ := store.ListTurns(id)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[1].Role != session.RoleUser || turns[1].Content != "what is this about?" {
		t.Errorf("turn[1] = %+v, want the user question", turns[1])
	}
	if turns[2].Role != session.RoleAssistant {
		t.Errorf("turn[2] role = %q, want assistant", turns[2].Role)
	}
}

func TestChatBeforeAnalyze(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	id := uploadVideo(t, h)

	rr := postJSON(h, "/videos/"+id+"/chat", `{"question":"too eager"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errType(t, rr); got != "session_not_ready" {
		t.Errorf("error type = %q, want session_not_ready", got)
	}
}

func TestChatEmptyQuestion(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := postJSON(h, "/videos/whatever/chat", `{"question":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetSessionWithTurns(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{summary: "summary text"}, &mockFetcher{})

	id := uploadVideo(t, h)
	postJSON(h, "/videos/"+id+"/analyze", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/videos/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Video sessionResponse `json:"video"`
		Turns []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"turns"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Video.ID != id {
		t.Errorf("video id = %q, want %q", resp.Video.ID, id)
	}
	if len(resp.Turns) != 1 || resp.Turns[0].Content != "summary text" {
		t.Errorf("turns = %+v, want the summary turn", resp.Turns)
	}
}

func TestListSessions(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	uploadVideo(t, h)
	uploadVideo(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/videos", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Videos []sessionResponse `json:"videos"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Videos) != 2 {
		t.Errorf("videos = %d, want 2", len(resp.Videos))
	}
}

func TestDeleteSession(t *testing.T) {
	h, store := newTestHandler(t, &mockAnalyzer{summary: "s", answer: "a"}, &mockFetcher{})

	id := uploadVideo(t, h)
	postJSON(h, "/videos/"+id+"/analyze", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/videos/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	if _, err := store.GetSession(id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}

	// Chatting with a deleted session reports it as unknown.
	rr2 := postJSON(h, "/videos/"+id+"/chat", `{"question":"anyone home?"}`)
	if rr2.Code != http.StatusNotFound {
		t.Errorf("chat after delete status = %d, want %d", rr2.Code, http.StatusNotFound)
	}
}

func TestDeleteUnknownIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t, &mockAnalyzer{}, &mockFetcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/videos/never-existed", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}
