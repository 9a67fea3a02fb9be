package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vcall-platform/internal/config"
	"vcall-platform/internal/media"
	"vcall-platform/internal/recording"
	"vcall-platform/internal/segment"
	"vcall-platform/internal/session"
)

type fakeMerger struct{}

func (fakeMerger) Merge(_ context.Context, req media.Request) (media.Result, error) {
	if err := os.MkdirAll(req.OutDir, 0o775); err != nil {
		return media.Result{}, err
	}
	out := filepath.Join(req.OutDir, req.BaseName+".webm")
	if err := os.WriteFile(out, []byte("merged"), 0o644); err != nil {
		return media.Result{}, err
	}
	return media.Result{Path: out, Format: "webm"}, nil
}

type apiFixture struct {
	router   *gin.Engine
	sessions *session.MemoryStore
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{}
	cfg.App.PublicBaseURL = "https://vcall.example.com"
	cfg.Storage = config.StorageConfig{
		SegmentsDir:     t.TempDir(),
		PublicDir:       t.TempDir(),
		PublicURLPrefix: "https://vcall.example.com/storage",
		MaxChunkBytes:   1 << 20,
	}
	cfg.Session = config.SessionConfig{
		DefaultTTL: 2 * time.Hour,
		MinTTL:     5 * time.Minute,
		MaxTTL:     72 * time.Hour,
	}

	sessions := session.NewMemoryStore()
	segs := segment.NewStore(cfg.Storage.SegmentsDir)
	recStore := recording.NewMemoryStore(sessions)
	sessSvc := session.NewService(sessions, cfg.Session)
	recSvc := recording.NewService(sessions, recStore, segs, fakeMerger{}, nil, nil, cfg.Storage, log)

	h := Handlers{Sessions: sessSvc, Recordings: recSvc, Segments: segs, Cfg: cfg}

	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", h.CreateSession)
		v1.POST("/sessions/self", h.CreateSelfSession)
		v1.GET("/sessions/:token", h.JoinInfo)
		v1.POST("/sessions/:token/chunks", h.UploadChunk)
		v1.POST("/sessions/:token/finalize", h.Finalize)
		v1.POST("/sessions/retake", h.Retake)
		v1.POST("/recordings/fetch", h.FetchRecordings)
	}
	return &apiFixture{router: r, sessions: sessions}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) uploadChunk(t *testing.T, token string, seq int, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("seq", strconv.Itoa(seq)); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("chunk", "slice.webm")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+token+"/chunks", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (f *apiFixture) createSession(t *testing.T, body map[string]any) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	return decode(t, w)["token"].(string)
}

func TestCreateSession(t *testing.T) {
	f := newAPI(t)
	w := f.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"application_id": "APP-1",
		"customer_name":  "Ada",
		"expiry_minutes": 50,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("missing token")
	}
	joinURL, _ := body["join_url"].(string)
	if !strings.Contains(joinURL, token) {
		t.Fatalf("join url does not carry the token: %s", joinURL)
	}
}

func TestJoinInfo(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{"customer_name": "Ada"})

	w := f.do(t, http.MethodGet, "/v1/sessions/"+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	if w := f.do(t, http.MethodGet, "/v1/sessions/ghost", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token: %d", w.Code)
	}
}

func TestJoinInfo_ExpiredTokenRejected(t *testing.T) {
	f := newAPI(t)
	now := time.Now().UTC()
	expired := session.Session{
		ID:        "expired-id",
		Token:     "expired-token",
		ExpiresAt: now.Add(-time.Minute),
		Status:    session.StatusActive,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	if err := f.sessions.Insert(context.Background(), expired); err != nil {
		t.Fatal(err)
	}

	if w := f.do(t, http.MethodGet, "/v1/sessions/expired-token", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expired token must read as not found, got %d", w.Code)
	}
}

func TestUploadChunk(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{})

	if w := f.uploadChunk(t, token, 0, []byte("slice")); w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	if w := f.uploadChunk(t, "ghost", 0, []byte("slice")); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token: %d", w.Code)
	}

	big := bytes.Repeat([]byte("x"), (1<<20)+1)
	if w := f.uploadChunk(t, token, 1, big); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized chunk: %d", w.Code)
	}
}

func TestUploadChunk_AfterFinalizeIsAcknowledgedNotStored(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{})
	f.uploadChunk(t, token, 0, []byte("slice"))

	if w := f.do(t, http.MethodPost, "/v1/sessions/"+token+"/finalize", map[string]any{"total_parts": 1}); w.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", w.Code, w.Body.String())
	}

	w := f.uploadChunk(t, token, 1, []byte("late"))
	if w.Code != http.StatusOK {
		t.Fatalf("late chunk must be acknowledged: %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "already_finalized" {
		t.Fatalf("late chunk response: %v", body)
	}
}

func TestRecordingFlow_EndToEnd(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{"application_id": "APP-7", "expiry_minutes": 50})

	for _, seq := range []int{2, 0, 1} {
		if w := f.uploadChunk(t, token, seq, []byte("slice")); w.Code != http.StatusOK {
			t.Fatalf("upload seq %d: %d", seq, w.Code)
		}
	}

	w := f.do(t, http.MethodPost, "/v1/sessions/"+token+"/finalize", map[string]any{"total_parts": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	finalPath, _ := body["final_path"].(string)
	if !strings.HasSuffix(finalPath, ".webm") {
		t.Fatalf("final path: %q", finalPath)
	}
	publicURL, _ := body["public_url"].(string)
	if !strings.HasPrefix(publicURL, "https://vcall.example.com/storage/") {
		t.Fatalf("public url: %q", publicURL)
	}

	fw := f.do(t, http.MethodPost, "/v1/recordings/fetch", map[string]any{
		"application_id": "APP-7",
		"latest_only":    true,
	})
	if fw.Code != http.StatusOK {
		t.Fatalf("fetch: %d %s", fw.Code, fw.Body.String())
	}
	var fetched struct {
		Recordings []recording.Detail `json:"recordings"`
	}
	if err := json.Unmarshal(fw.Body.Bytes(), &fetched); err != nil {
		t.Fatal(err)
	}
	if len(fetched.Recordings) != 1 {
		t.Fatalf("expected one recording, got %d", len(fetched.Recordings))
	}
	if fetched.Recordings[0].VideoURL != publicURL {
		t.Fatalf("fetched url %q does not match finalize url %q", fetched.Recordings[0].VideoURL, publicURL)
	}
}

func TestFinalize_NoSegments(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{})

	w := f.do(t, http.MethodPost, "/v1/sessions/"+token+"/finalize", map[string]any{"total_parts": 0})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFetchRecordings_RequiresExactlyOneIdentifier(t *testing.T) {
	f := newAPI(t)

	if w := f.do(t, http.MethodPost, "/v1/recordings/fetch", map[string]any{"latest_only": true}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("no identifier: %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/v1/recordings/fetch", map[string]any{
		"application_id":     "A",
		"kyc_application_id": "B",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("both identifiers: %d", w.Code)
	}
}

func TestRetakeEndpoint(t *testing.T) {
	f := newAPI(t)
	token := f.createSession(t, map[string]any{"application_id": "APP-9"})
	f.uploadChunk(t, token, 0, []byte("slice"))
	if w := f.do(t, http.MethodPost, "/v1/sessions/"+token+"/finalize", map[string]any{"total_parts": 1}); w.Code != http.StatusOK {
		t.Fatalf("finalize: %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/v1/sessions/retake", map[string]any{"application_id": "APP-9"})
	if w.Code != http.StatusOK {
		t.Fatalf("retake: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["token"] != token {
		t.Fatalf("retake must return the same token, got %v", body["token"])
	}
	if body["status"] != string(session.StatusActive) {
		t.Fatalf("retake status: %v", body["status"])
	}

	if w := f.do(t, http.MethodPost, "/v1/sessions/retake", map[string]any{}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("ambiguous retake: %d", w.Code)
	}
}
