// Package imagestore persists ingested images to durable storage and serves
// them back out, hardened against path traversal on retrieval.
package imagestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // decode support for GIF uploads
	"image/jpeg"
	_ "image/png" // decode support for PNG uploads
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // decode support for WebP uploads
)

// maxDimension and thumbnailDimension mirror the original Python service's
// JPEG recompression targets.
const (
	maxDimension       = 1920
	thumbnailDimension = 400
	jpegQuality        = 85
	thumbnailQuality   = 75
)

// allowedExtensions is the retrieval-path allow-list of spec.md §4.8.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Saver is the narrow interface both backends satisfy; it matches
// pipeline.ImageSaver without importing that package, avoiding a dependency
// cycle between imagestore and pipeline.
type Saver interface {
	Save(ctx context.Context, imageBytes []byte, kind types.ImageType, anchor time.Time) (imagePath, thumbnailPath string, err error)
}

var (
	_ Saver = (*Local)(nil)
	_ Saver = (*Minio)(nil)
)

// Local is a filesystem-backed ImageSaver rooted at a configured upload
// directory, laid out as <root>/<YYYY>/<MM>/<kind>_<timestamp>_<rand8>.jpg
// with a thumb_-prefixed sibling, matching the original image_storage.py.
type Local struct {
	Root string
}

// NewLocal returns a Local backend rooted at root, creating it if absent.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: creating upload root: %w", err)
	}
	return &Local{Root: root}, nil
}

// Save decodes, recompresses, and writes imageBytes plus a thumbnail under
// Root, returning both paths relative to Root.
func (l *Local) Save(ctx context.Context, imageBytes []byte, kind types.ImageType, anchor time.Time) (string, string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", "", fmt.Errorf("imagestore: decoding image: %w", err)
	}

	datePath := fmt.Sprintf("%04d/%02d", anchor.Year(), anchor.Month())
	dir := filepath.Join(l.Root, datePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("imagestore: creating date directory: %w", err)
	}

	filename, err := generateFilename(kind, anchor)
	if err != nil {
		return "", "", err
	}

	main := resize.Thumbnail(maxDimension, maxDimension, img, resize.Lanczos3)
	imagePath := filepath.Join(datePath, filename)
	if err := writeJPEG(filepath.Join(l.Root, imagePath), main, jpegQuality); err != nil {
		return "", "", err
	}

	thumb := resize.Thumbnail(thumbnailDimension, thumbnailDimension, img, resize.Lanczos3)
	thumbName := "thumb_" + filename
	thumbnailPath := filepath.Join(datePath, thumbName)
	if err := writeJPEG(filepath.Join(l.Root, thumbnailPath), thumb, thumbnailQuality); err != nil {
		return "", "", err
	}

	return filepath.ToSlash(imagePath), filepath.ToSlash(thumbnailPath), nil
}

// Delete removes the image at the given Root-relative path, resolving and
// validating it first via ResolvePath.
func (l *Local) Delete(relPath string) error {
	full, err := ResolvePath(l.Root, relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func generateFilename(kind types.ImageType, anchor time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("imagestore: generating random suffix: %w", err)
	}
	timestamp := anchor.Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.jpg", kind, timestamp, hex.EncodeToString(buf)), nil
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagestore: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("imagestore: encoding %s: %w", path, err)
	}
	return nil
}

// ResolvePath applies the input-hardening rules of spec.md §4.8 to an image
// retrieval request: the requested path is cleaned, verified to resolve
// strictly inside root (no ".." traversal, no symlink escape), and its
// extension checked against the allow-list.
func ResolvePath(root, requested string) (string, error) {
	ext := strings.ToLower(filepath.Ext(requested))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("imagestore: extension %q is not permitted", ext)
	}

	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanRoot, filepath.Clean("/"+requested))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absJoined, cleanRoot+string(filepath.Separator)) && absJoined != cleanRoot {
		return "", errors.New("imagestore: path escapes upload root")
	}

	resolved, err := filepath.EvalSymlinks(absJoined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return "", fmt.Errorf("imagestore: resolving symlinks: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return "", fmt.Errorf("imagestore: resolving root symlinks: %w", err)
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return "", errors.New("imagestore: path escapes upload root via symlink")
	}

	return resolved, nil
}
