package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvmailer/internal/config"
	"github.com/JonMunkholm/csvmailer/internal/core"
)

// fakeClient accepts everything except recipients containing "reject".
type fakeClient struct{}

func (fakeClient) Auth(smtp.Auth) error { return nil }
func (fakeClient) Mail(string) error    { return nil }
func (fakeClient) Reset() error         { return nil }
func (fakeClient) Quit() error          { return nil }
func (fakeClient) Close() error         { return nil }

func (fakeClient) Rcpt(to string) error {
	if strings.Contains(to, "reject") {
		return &textprotoError{"550 mailbox unavailable"}
	}
	return nil
}

func (fakeClient) Data() (io.WriteCloser, error) { return nopWriteCloser{io.Discard}, nil }

type textprotoError struct{ msg string }

func (e *textprotoError) Error() string { return e.msg }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *fakeDialer) Dial(context.Context, core.Account) (core.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return fakeClient{}, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	env := map[string]string{"GMAIL_SMTP_USER": "me@gmail.com", "GMAIL_SMTP_PASSWORD": "pw"}
	providers, err := config.LoadProviders("", func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	return &config.Config{
		Mail: config.MailConfig{
			FallbackEncoding: "gbk",
			FallbackSubject:  core.DefaultFallbackSubject,
			MaxFileSize:      64 << 10,
			MaxConcurrent:    2,
			MaxWaitTime:      time.Second,
		},
		Security:  config.SecurityConfig{SecretKey: "test-secret"},
		Providers: providers,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	svc, err := core.NewService(cfg, dialer)
	require.NoError(t, err)
	s := NewServer(svc, cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, dialer
}

// multipartBody builds a send form. An empty fileName omits the file part.
func multipartBody(t *testing.T, fields map[string]string, fileName string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

const recipients = "email,name\na@x.com,Alice\nreject@x.com,Bob\n"

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	body := rec.Body.String()
	assert.Contains(t, body, `<option value="gmail">`)
	assert.Contains(t, body, `<option value="feishu">`)
	assert.Contains(t, body, `name="body_template"`)
}

func TestSendForm_RendersReport(t *testing.T) {
	s, dialer := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, map[string]string{
		"account":       "gmail",
		"subject":       "  Hi $name  ",
		"body_template": "Hello $name",
	}, "list.csv", []byte(recipients))
	req := httptest.NewRequest(http.MethodPost, "/send", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dialer.count())
	page := rec.Body.String()
	assert.Contains(t, page, "Batch finished")
	assert.Contains(t, page, "reject@x.com")
	assert.Contains(t, page, "550 mailbox unavailable")
	assert.Contains(t, page, "Hi Alice")
}

func TestSendForm_ErrorFlashesAndRedirects(t *testing.T) {
	s, dialer := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, map[string]string{"account": "gmail"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/send", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(t, s, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, 0, dialer.count())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	page := do(t, s, next)

	assert.Contains(t, page.Body.String(), "No file was selected")
	assert.Contains(t, page.Body.String(), "UPL003")
}

func TestSendForm_MissingCredentialsDetail(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, map[string]string{"account": "feishu"}, "list.csv", []byte(recipients))
	req := httptest.NewRequest(http.MethodPost, "/send", body)
	req.Header.Set("Content-Type", ctype)
	rec := do(t, s, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		next.AddCookie(c)
	}
	page := do(t, s, next).Body.String()
	assert.Contains(t, page, "FEISHU_SMTP_USER")
}

func TestSendAPI(t *testing.T) {
	s, dialer := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, map[string]string{
		"account":       "gmail",
		"body_template": "Hello $name",
	}, "list.csv", []byte(recipients))
	req := httptest.NewRequest(http.MethodPost, "/api/send", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dialer.count())

	var report core.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "gmail", report.Account)
	assert.Equal(t, "list.csv", report.FileName)
	assert.Equal(t, 2, report.Total)
	require.Len(t, report.Success, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "a@x.com", report.Success[0].ToEmail)
	assert.Equal(t, core.DefaultFallbackSubject, report.Success[0].Subject)
	assert.Equal(t, "reject@x.com", report.Failed[0].ToEmail)
	assert.Contains(t, report.Failed[0].Error, "550")
}

func TestSendAPI_Errors(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		file     []byte
		noFile   bool
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown account",
			fields:   map[string]string{"account": "outlook"},
			file:     []byte(recipients),
			wantCode: http.StatusBadRequest,
			wantErr:  "ACC001",
		},
		{
			name:     "missing credentials",
			fields:   map[string]string{"account": "feishu"},
			file:     []byte(recipients),
			wantCode: http.StatusBadRequest,
			wantErr:  "ACC002",
		},
		{
			name:     "no file",
			fields:   map[string]string{"account": "gmail"},
			noFile:   true,
			wantCode: http.StatusBadRequest,
			wantErr:  "UPL003",
		},
		{
			name:     "no email rows",
			fields:   map[string]string{"account": "gmail"},
			file:     []byte("name\nAlice\n"),
			wantCode: http.StatusBadRequest,
			wantErr:  "CSV002",
		},
		{
			name:     "too large",
			fields:   map[string]string{"account": "gmail"},
			file:     bytes.Repeat([]byte("a@x.com\n"), 20<<10),
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "UPL001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dialer := newTestServer(t, testConfig(t))

			fileName := "list.csv"
			if tt.noFile {
				fileName = ""
			}
			body, ctype := multipartBody(t, tt.fields, fileName, tt.file)
			req := httptest.NewRequest(http.MethodPost, "/api/send", body)
			req.Header.Set("Content-Type", ctype)

			rec := do(t, s, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, 0, dialer.count())
		})
	}
}

func TestCheckAPI_DoesNotSend(t *testing.T) {
	s, dialer := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, map[string]string{
		"account": "gmail",
		"subject": "Hi $name",
	}, "list.csv", []byte(recipients))
	req := httptest.NewRequest(http.MethodPost, "/api/check", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, dialer.count())

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gmail", resp.Account)
	assert.Contains(t, resp.From, "<me@gmail.com>")
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "Hi Alice", resp.Messages[0].Subject)
}

func TestProvidersAPI(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var providers []core.ProviderInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 2)

	byKey := map[string]core.ProviderInfo{}
	for _, p := range providers {
		byKey[p.Key] = p
	}
	assert.True(t, byKey["gmail"].HasCredentials)
	assert.False(t, byKey["feishu"].HasCredentials)
	assert.NotContains(t, rec.Body.String(), "pw")
}

func TestHistory_Disabled(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	page := do(t, s, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "History is disabled")
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string                  `json:"status"`
		History bool                    `json:"history"`
		Batches core.BatchLimiterStatus `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.History)
	assert.Equal(t, 2, body.Batches.MaxConcurrent)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"k1", "k2"}
	s, _ := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusForbidden},
		{"header", "X-API-Key", "k2", http.StatusOK},
		{"bearer", "Authorization", "Bearer k1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, do(t, s, req).Code)
		})
	}

	// Pages stay open.
	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RATE001", resp.Code)

	// A different client has its own budget.
	other := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	other.RemoteAddr = "10.9.9.9:1234"
	assert.Equal(t, http.StatusOK, do(t, s, other).Code)
}

func TestCORS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AllowedOrigins = []string{"https://app.example.com"}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := do(t, s, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = do(t, s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
