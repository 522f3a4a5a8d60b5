package dispatcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultUploadsDir is where CV uploads live when no directory is configured.
const DefaultUploadsDir = "./uploads"

// ErrInvalidAttachment is returned for attachments outside the uploads directory.
var ErrInvalidAttachment = errors.New("attachment must be a file in the uploads directory")

// ResolveAttachment maps an upload reference to its path under dir. A bare
// file name or a path whose parent is dir is accepted; anything else,
// including hidden files, is rejected. An empty name resolves to "".
func ResolveAttachment(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if dir == "" {
		dir = DefaultUploadsDir
	}

	clean := filepath.Clean(name)
	base := filepath.Base(clean)
	if base == "." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAttachment, name)
	}

	if clean != base {
		parent, err := filepath.Abs(filepath.Dir(clean))
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidAttachment, name)
		}
		root, err := filepath.Abs(dir)
		if err != nil || parent != root {
			return "", fmt.Errorf("%w: %q", ErrInvalidAttachment, name)
		}
	}
	return filepath.Join(dir, base), nil
}
