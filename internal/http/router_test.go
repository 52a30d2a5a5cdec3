package httpapi

import (
	"bytes"
	cgzip "compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ntavlas/go-newsletter-backend/internal/config"
	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
	"github.com/ntavlas/go-newsletter-backend/internal/worker"
)

// --- fake mailer capturing confirmation emails and deliveries ---

type fakeMailer struct {
	mu    sync.Mutex
	sends []fakeSend
}

type fakeSend struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

func (m *fakeMailer) Send(_ context.Context, to domain.EmailAddress, subject, htmlContent, textContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, fakeSend{To: to.String(), Subject: subject, HTML: htmlContent, Text: textContent})
	return nil
}

func (m *fakeMailer) all() []fakeSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fakeSend, len(m.sends))
	copy(out, m.sends)
	return out
}

// --- test DB helper (pure-Go sqlite, no CGO) ---

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/",
		BaseURL:     "https://newsletter.example.com",
		RateRPS:     1000,
		RateBurst:   1000,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false},
		Idempotency: config.IdempotencyConfig{KeyMaxLen: 50, ClaimTTL: time.Minute},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_HealthMetricsAndFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), &fakeMailer{}, testConfig())

	// Health
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected ACAO *, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	// Metrics
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}

	// NoRoute
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitely-not-here", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("noroute = %d", w.Code)
	}

	// NoMethod
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/subscriptions", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("nomethod = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlistBranch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	RegisterRoutes(r, newTestDB(t), &fakeMailer{}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allowlisted origin not echoed: %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example.com" {
		t.Fatalf("unlisted origin must not be echoed: %q", got)
	}
}

var confirmLinkRE = regexp.MustCompile(`subscriptions/confirm\?subscription_token=([A-Za-z0-9]+)`)

// Full lifecycle: signup, confirm, publish, worker delivery, retry replay.
func TestRegisterRoutes_NewsletterLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	mailer := &fakeMailer{}
	r := gin.New()
	RegisterRoutes(r, db, mailer, testConfig())

	// 1) Subscribe.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions",
		bytes.NewBufferString(`{"email":"jane@example.com","name":"Jane"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe = %d %s", w.Code, w.Body.String())
	}

	sends := mailer.all()
	if len(sends) != 1 || sends[0].To != "jane@example.com" {
		t.Fatalf("confirmation email not sent: %+v", sends)
	}
	m := confirmLinkRE.FindStringSubmatch(sends[0].Text)
	if m == nil {
		t.Fatalf("no confirmation link in email: %q", sends[0].Text)
	}
	token := m[1]

	// 2) Unknown token is unauthorized.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?subscription_token=WrongToken123", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}

	// 3) Confirm with the emailed token.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?subscription_token="+token, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("confirm = %d %s", w.Code, w.Body.String())
	}

	// 4) Publish requires authentication.
	body := `{"title":"Issue #1","html_content":"<p>hi</p>","text_content":"hi","idempotency_key":"pub-1"}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/newsletters", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated publish = %d", w.Code)
	}

	// 5) Publish.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/newsletters", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "admin")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("publish = %d %s", w.Code, w.Body.String())
	}
	firstBody := w.Body.String()
	var ack struct {
		Message string `json:"message"`
		IssueID string `json:"issue_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || ack.IssueID == "" {
		t.Fatalf("publish ack: %v %s", err, firstBody)
	}

	// The publish itself sends nothing; delivery is queued.
	if got := len(mailer.all()); got != 1 {
		t.Fatalf("publish must not send directly, sends = %d", got)
	}
	n, err := repo.CountDeliveryTasks(context.Background(), db)
	if err != nil || n != 1 {
		t.Fatalf("queued tasks = %d, err = %v", n, err)
	}

	// 6) Retry with the same key replays byte-for-byte without re-enqueueing.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/newsletters", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "admin")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("replay = %d %s", w.Code, w.Body.String())
	}
	if w.Body.String() != firstBody {
		t.Fatalf("replay body differs:\n first = %s\nsecond = %s", firstBody, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay must carry Idempotency-Replayed: true")
	}
	n, err = repo.CountDeliveryTasks(context.Background(), db)
	if err != nil || n != 1 {
		t.Fatalf("tasks after replay = %d, err = %v", n, err)
	}

	// 7) Worker drains the queue and delivers the issue.
	wkr := &worker.DeliveryWorker{DB: db, Mailer: mailer, Name: "test-worker"}
	outcome, err := wkr.TryExecuteTask(context.Background())
	if err != nil || outcome != worker.TaskCompleted {
		t.Fatalf("worker = (%v, %v)", outcome, err)
	}
	sends = mailer.all()
	if len(sends) != 2 {
		t.Fatalf("deliveries = %d, want confirmation + issue", len(sends))
	}
	issueMail := sends[1]
	if issueMail.To != "jane@example.com" || issueMail.Subject != "Issue #1" || issueMail.HTML != "<p>hi</p>" {
		t.Fatalf("unexpected delivery: %+v", issueMail)
	}

	// 8) The issue listing shows the published issue.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/newsletters", nil)
	req.Header.Set("X-User-ID", "admin")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), ack.IssueID) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_InvalidIdempotencyKeyHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), &fakeMailer{}, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletters",
		bytes.NewBufferString(`{"title":"T"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "admin")
	req.Header.Set("Idempotency-Key", "not a valid key!")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid header key = %d, want 400", w.Code)
	}
}

func TestRegisterRoutes_GzipCompressesWhenAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), &fakeMailer{}, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := cgzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("decompressed body = %s", body)
	}

	// Clients that do not advertise gzip get the identity encoding.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Fatalf("identity Content-Encoding = %q, want empty", got)
	}
}
