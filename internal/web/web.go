// Package web serves the embedded browser UI. It renders a single page that
// talks to the JSON API; no business logic lives here.
package web

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type pageData struct {
	MaxUploadMB int64
	Hosts       []string
}

// Handler returns the UI handler. The limits are display hints only; the API
// enforces them.
func Handler(maxUploadMB int64, hosts []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, pageData{MaxUploadMB: maxUploadMB, Hosts: hosts}); err != nil {
			http.Error(w, "template rendering failed", http.StatusInternalServerError)
		}
	})
}
