// Package web embeds the chat page (dist/) and serves it as a single-page
// application. The page is plain HTML and JS with no build step.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// SPAHandler serves files from dist/ and falls back to index.html for any
// other path. index.html is never cached: every load must run the script
// that mints a fresh chat session ID.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == indexFile || !exists(subFS, name) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFileFS(w, r, subFS, indexFile)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=300")
		fileServer.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
