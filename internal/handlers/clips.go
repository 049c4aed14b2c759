package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ClipHandler serves a recorded clip by file name from clipDir. Names that
// are not plain file names inside the directory are rejected.
func ClipHandler(clipDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !validClipName(name) {
			http.Error(w, "Invalid clip name", http.StatusBadRequest)
			return
		}

		path := filepath.Join(clipDir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, path)
	}
}

func validClipName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}
