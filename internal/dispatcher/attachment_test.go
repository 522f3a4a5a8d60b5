package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAttachment(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		in   string
		want string
	}{
		{"empty", "/srv/uploads", "  ", ""},
		{"bare name", "/srv/uploads", "1700000000000-cv.pdf", "/srv/uploads/1700000000000-cv.pdf"},
		{"path returned by upload", "/srv/uploads", "/srv/uploads/cv.pdf", "/srv/uploads/cv.pdf"},
		{"relative dir", "./uploads", "uploads/cv.pdf", "uploads/cv.pdf"},
		{"dot segments collapse inside dir", "/srv/uploads", "/srv/uploads/../uploads/cv.pdf", "/srv/uploads/cv.pdf"},
		{"default dir", "", "cv.pdf", "uploads/cv.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAttachment(tt.dir, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAttachment_RejectsOutsideUploads(t *testing.T) {
	for _, in := range []string{
		"/etc/passwd",
		"../.env",
		"../cv.pdf",
		"/srv/uploads/../secrets/cv.pdf",
		"/srv/uploads/sub/cv.pdf",
		".env",
		"/",
		"..",
	} {
		_, err := ResolveAttachment("/srv/uploads", in)
		assert.ErrorIs(t, err, ErrInvalidAttachment, in)
	}
}
