package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediadrop/internal/admission"
	"mediadrop/internal/auth"
	"mediadrop/internal/entitlement"
	"mediadrop/internal/library"
	"mediadrop/internal/observability/metrics"
	"mediadrop/internal/policy"
	"mediadrop/internal/quota"
	"mediadrop/internal/uploader"
)

const (
	testAPIKey       = "app-key"
	testSecurity     = "security-token"
	testPackage      = "com.example.mobile"
	testMarker       = "MobileUploader"
	testPremiumKey   = "premium-static-key"
	testSessionToken = "session-token"
)

type fakeCatalog struct {
	libs map[string]library.Library
}

func (c *fakeCatalog) Ping(context.Context) error { return nil }

func (c *fakeCatalog) ListLibraries(context.Context) ([]library.Library, error) {
	libs := make([]library.Library, 0, len(c.libs))
	for _, lib := range c.libs {
		libs = append(libs, lib)
	}
	return libs, nil
}

func (c *fakeCatalog) GetLibrary(_ context.Context, id string) (library.Library, bool, error) {
	lib, ok := c.libs[id]
	return lib, ok, nil
}

func (c *fakeCatalog) RefreshLibrary(context.Context, string) error { return nil }

type fixture struct {
	handler *Handler
	libDir  string
	ledger  *quota.Ledger
}

func newFixture(t *testing.T, mutate func(*admission.Config)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	libDir := t.TempDir()
	catalog := &fakeCatalog{libs: map[string]library.Library{
		"lib1": {ID: "lib1", Name: "Movies", Path: libDir, Type: "movies"},
	}}
	sessions := auth.NewManager(time.Hour)
	if _, err := sessions.Register(context.Background(), testSessionToken, auth.Principal{UserID: "user-1", UserName: "casey"}); err != nil {
		t.Fatalf("failed to register session: %v", err)
	}
	ledger := quota.NewLedger()

	cfg := admission.Config{
		APIKey:               testAPIKey,
		SecurityToken:        testSecurity,
		AppPackage:           testPackage,
		UserAgentMarker:      testMarker,
		EnableUploads:        true,
		AllowFolderCreation:  true,
		MaxFileSizeMB:        500,
		FreeMaxFileSizeMB:    50,
		FreeDailyUploadLimit: 10,
		FreeDailySizeLimitMB: 500,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	gate, err := admission.NewGate(cfg, admission.Deps{
		Rules:        policy.DefaultRules(),
		Ledger:       ledger,
		Entitlements: entitlement.NewResolver(entitlement.Config{APIKey: testPremiumKey}, nil, logger),
		Catalog:      catalog,
		Browser:      library.NewBrowser(0, logger),
		Executor:     uploader.NewExecutor(logger),
		Sessions:     sessions,
		Logger:       logger,
		Metrics:      metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}
	return &fixture{
		handler: NewHandler(gate, catalog, sessions, logger),
		libDir:  libDir,
		ledger:  ledger,
	}
}

func withAppHeaders(req *http.Request) *http.Request {
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("X-Security-Token", testSecurity)
	req.Header.Set("X-App-Package", testPackage)
	req.Header.Set("User-Agent", "MobileUploader/2.1 (Android 14)")
	req.Header.Set("Authorization", "Bearer "+testSessionToken)
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestVerify(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/verify", nil))
	rr := httptest.NewRecorder()
	f.handler.Verify(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success, got %v", payload)
	}
	if payload["username"] != "casey" || payload["userId"] != "user-1" {
		t.Fatalf("unexpected identity in response: %v", payload)
	}
	if payload["uploadsEnabled"] != true {
		t.Fatalf("expected uploadsEnabled, got %v", payload)
	}
}

func TestVerifyRejectsBadAppAuth(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/verify", nil))
	req.Header.Del("X-App-Package")
	rr := httptest.NewRecorder()
	f.handler.Verify(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if payload := decodeBody(t, rr); payload["error"] == "" {
		t.Fatalf("expected error message, got %v", payload)
	}
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/verify", nil))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rr := httptest.NewRecorder()
	f.handler.Verify(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLibraries(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/libraries", nil))
	rr := httptest.NewRecorder()
	f.handler.Libraries(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	libs, ok := payload["libraries"].([]any)
	if !ok || len(libs) != 1 {
		t.Fatalf("expected one library, got %v", payload)
	}
}

func TestFoldersRequiresLibraryID(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/folders", nil))
	rr := httptest.NewRecorder()
	f.handler.Folders(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestFoldersListsDirectories(t *testing.T) {
	f := newFixture(t, nil)
	if err := os.MkdirAll(filepath.Join(f.libDir, "season-01"), 0o755); err != nil {
		t.Fatalf("failed to seed folder: %v", err)
	}

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/folders?libraryId=lib1", nil))
	rr := httptest.NewRecorder()
	f.handler.Folders(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	folders, ok := payload["folders"].([]any)
	if !ok || len(folders) != 1 {
		t.Fatalf("expected one folder, got %v", payload)
	}
}

func TestCreateFolder(t *testing.T) {
	f := newFixture(t, nil)

	body := strings.NewReader(`{"libraryId":"lib1","folderName":"incoming"}`)
	req := withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/create-folder", body))
	rr := httptest.NewRecorder()
	f.handler.CreateFolder(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(filepath.Join(f.libDir, "incoming")); err != nil {
		t.Fatalf("expected folder on disk: %v", err)
	}

	body = strings.NewReader(`{"libraryId":"lib1","folderName":"incoming"}`)
	req = withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/create-folder", body))
	rr = httptest.NewRecorder()
	f.handler.CreateFolder(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("duplicate create status = %d, want 400", rr.Code)
	}
}

func TestCreateFolderDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *admission.Config) {
		cfg.AllowFolderCreation = false
	})

	body := strings.NewReader(`{"libraryId":"lib1","folderName":"incoming"}`)
	req := withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/create-folder", body))
	rr := httptest.NewRecorder()
	f.handler.CreateFolder(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUploadBatch(t *testing.T) {
	f := newFixture(t, nil)

	body, contentType := multipartBody(t, map[string]string{
		"clip.mp4":  "first body",
		"scene.mkv": "second body",
	})
	req := withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/upload?libraryId=lib1", body))
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.handler.Upload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["success"] != true || payload["isPremiumUpload"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
	uploaded, ok := payload["uploadedFiles"].([]any)
	if !ok || len(uploaded) != 2 {
		t.Fatalf("expected two uploaded files, got %v", payload)
	}
	if usage := f.ledger.Usage("user-1"); usage.Files != 2 {
		t.Fatalf("ledger files = %d, want 2", usage.Files)
	}
	if _, err := os.Stat(filepath.Join(f.libDir, "clip.mp4")); err != nil {
		t.Fatalf("expected clip.mp4 on disk: %v", err)
	}
}

func TestUploadQuotaRejectionCarriesUpgradeHint(t *testing.T) {
	f := newFixture(t, func(cfg *admission.Config) {
		cfg.FreeDailyUploadLimit = 10
	})

	files := make(map[string]string, 11)
	for i := 0; i < 11; i++ {
		files[fmt.Sprintf("clip_%02d.mp4", i)] = "body"
	}
	body, contentType := multipartBody(t, files)
	req := withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/upload?libraryId=lib1", body))
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.handler.Upload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["upgradeRequired"] != true {
		t.Fatalf("expected upgradeRequired, got %v", payload)
	}
	if usage := f.ledger.Usage("user-1"); usage.Files != 0 {
		t.Fatalf("expected ledger unchanged, got %+v", usage)
	}
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	f := newFixture(t, nil)

	body, contentType := multipartBody(t, map[string]string{"setup.exe": "body"})
	req := withAppHeaders(httptest.NewRequest(http.MethodPost, "/api/mobile-uploader/upload?libraryId=lib1", body))
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	f.handler.Upload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if payload := decodeBody(t, rr); payload["upgradeRequired"] != nil {
		t.Fatalf("type rejection must not carry upgrade hint, got %v", payload)
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/upload", nil))
	rr := httptest.NewRecorder()
	f.handler.Upload(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != "POST" {
		t.Fatalf("Allow header = %q, want POST", allow)
	}
}

func TestUserLimits(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.Record("user-1", 2, 3<<20)

	req := withAppHeaders(httptest.NewRequest(http.MethodGet, "/api/mobile-uploader/user-limits", nil))
	rr := httptest.NewRecorder()
	f.handler.UserLimits(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["isPremium"] != false {
		t.Fatalf("expected free tier, got %v", payload)
	}
	if payload["filesUploadedToday"] != float64(2) || payload["remainingFiles"] != float64(8) {
		t.Fatalf("unexpected usage figures: %v", payload)
	}
}

func TestUserLimitsPremiumSentinels(t *testing.T) {
	f := newFixture(t, nil)

	target := "/api/mobile-uploader/user-limits?isPremium=true&premiumToken=" + testPremiumKey
	req := withAppHeaders(httptest.NewRequest(http.MethodGet, target, nil))
	rr := httptest.NewRecorder()
	f.handler.UserLimits(rr, req)

	payload := decodeBody(t, rr)
	if payload["isPremium"] != true {
		t.Fatalf("expected premium tier, got %v", payload)
	}
	if payload["remainingFiles"] != float64(-1) || payload["remainingSizeMB"] != float64(-1) {
		t.Fatalf("expected unlimited sentinels, got %v", payload)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	f.handler.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload)
	}
}
