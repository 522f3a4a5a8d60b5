package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultMaxUploadBytes bounds an uploaded CV.
const DefaultMaxUploadBytes = 10 << 20

var allowedUploadExt = map[string]bool{".pdf": true, ".doc": true, ".docx": true, ".odt": true}

// UploadResponse describes a stored file. Path is what campaigns and
// profiles reference as their attachment.
type UploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Uploads stores CV files on disk.
type Uploads struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewUploads creates a store rooted at dir.
func NewUploads(dir string, maxBytes int64) *Uploads {
	if dir == "" {
		dir = "./uploads"
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Uploads{dir: dir, maxBytes: maxBytes, now: time.Now}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Create handles a multipart upload in the "cv" field.
func (u *Uploads) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+1<<20)
	file, header, err := r.FormFile("cv")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file received in field cv"})
		return
	}
	defer file.Close()

	if header.Size > u.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
		return
	}

	base := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedUploadExt[ext] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported file type %q", ext)})
		return
	}

	name := fmt.Sprintf("%d-%s", u.now().UnixMilli(), unsafeName.ReplaceAllString(base, "_"))
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot create uploads directory"})
		return
	}
	dst := filepath.Join(u.dir, name)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot store file"})
		return
	}
	n, err := io.Copy(out, io.LimitReader(file, u.maxBytes+1))
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(dst)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot store file"})
		return
	}
	if n > u.maxBytes {
		_ = os.Remove(dst)
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{Filename: name, Path: dst, Size: n})
}

// Get serves a stored file by name.
func (u *Uploads) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(u.dir, name))
}
