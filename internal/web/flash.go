package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvmailer/internal/web/templates"
)

const flashCookie = "csvmailer_flash"

// maxFlashDetail keeps the cookie well under browser size limits.
const maxFlashDetail = 1024

// flashStore keeps one-shot messages in a signed cookie between a
// redirect and the next page load.
type flashStore struct {
	key []byte
}

func newFlashStore(secret string) *flashStore {
	return &flashStore{key: []byte(secret)}
}

func (fs *flashStore) sign(payload string) string {
	mac := hmac.New(sha256.New, fs.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Add sets the flash cookie, replacing any pending messages.
func (fs *flashStore) Add(w http.ResponseWriter, flashes ...templates.Flash) {
	for i := range flashes {
		if len(flashes[i].Detail) > maxFlashDetail {
			flashes[i].Detail = flashes[i].Detail[:maxFlashDetail] + "..."
		}
	}
	data, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	payload := base64.RawURLEncoding.EncodeToString(data)
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    payload + "." + fs.sign(payload),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Pop returns pending messages and clears the cookie. Tampered or
// malformed cookies yield nothing.
func (fs *flashStore) Pop(w http.ResponseWriter, r *http.Request) []templates.Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	payload, sig, ok := strings.Cut(c.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(fs.sign(payload))) {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	var flashes []templates.Flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		return nil
	}
	return flashes
}
