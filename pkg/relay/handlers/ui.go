package handlers

import (
	_ "embed"
	"net/http"
)

//go:embed ui.html
var uiPage []byte

// UIHandler serves the built-in browser client at the root path.
type UIHandler struct{}

func (h UIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(uiPage)
}
