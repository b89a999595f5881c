// Package templates renders the HTML pages of the mail-merge UI.
//
// Components are written in .templ files; run `templ generate` after
// editing them.
package templates

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/csvmailer/internal/core"
)

// Flash is a one-shot message shown on the next page load.
type Flash struct {
	Category string `json:"c"` // "error" or "success"
	Message  string `json:"m"`
	Detail   string `json:"d,omitempty"`
}

// IndexData is everything the upload form needs.
type IndexData struct {
	Providers []core.ProviderInfo
	Flashes   []Flash
	MaxSizeMB int64
}

func flashClass(f Flash) string {
	if f.Category == "error" {
		return "alert-error"
	}
	return "alert-success"
}

func providerLabel(p core.ProviderInfo) string {
	label := p.Key + " - " + p.Host + ":" + strconv.Itoa(p.Port)
	if p.HasCredentials {
		label += " (credentials configured)"
	}
	return label
}

func ratio(sent, total int) string {
	return strconv.Itoa(sent) + "/" + strconv.Itoa(total)
}

func seconds(d time.Duration) string {
	return d.Round(time.Second).String()
}
