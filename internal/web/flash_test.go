package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvmailer/internal/web/templates"
)

func TestFlashStore_RoundTrip(t *testing.T) {
	fs := newFlashStore("secret")

	rec := httptest.NewRecorder()
	fs.Add(rec, templates.Flash{Category: "error", Message: "无标题 failed", Detail: strings.Repeat("x", 2000)})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	out := httptest.NewRecorder()
	got := fs.Pop(out, req)
	require.Len(t, got, 1)
	assert.Equal(t, "无标题 failed", got[0].Message)
	assert.Len(t, got[0].Detail, maxFlashDetail+3)

	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestFlashStore_RejectsTampering(t *testing.T) {
	rec := httptest.NewRecorder()
	newFlashStore("secret").Add(rec, templates.Flash{Category: "error", Message: "hello"})
	cookie := rec.Result().Cookies()[0]

	tests := []struct {
		name  string
		store *flashStore
		value string
	}{
		{"other key", newFlashStore("other"), cookie.Value},
		{"no signature", newFlashStore("secret"), strings.Split(cookie.Value, ".")[0]},
		{"garbage", newFlashStore("secret"), "not-a-cookie"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: flashCookie, Value: tt.value})
			assert.Nil(t, tt.store.Pop(httptest.NewRecorder(), req))
		})
	}
}

func TestFlashStore_NoCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	got := newFlashStore("secret").Pop(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, got)
	assert.Empty(t, rec.Result().Cookies())
}
