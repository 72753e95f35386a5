// Package images discovers screenshot files and prepares them for the
// vision backend.
package images

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

// Image is a screenshot loaded into memory.
type Image struct {
	Path      string
	MediaType string
	Data      string // base64, standard encoding
	Size      int
}

// DataURL returns the image as a data: URL.
func (i *Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Data
}

var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MediaType maps a file extension to the media type the backend expects.
func MediaType(path string) (string, bool) {
	mt, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]
	return mt, ok
}

// Discover returns the files under dir matching any of patterns, sorted
// lexically and without duplicates. Patterns use doublestar syntax and are
// relative to dir. A missing or unreadable dir is an error; no matches is not.
func Discover(dir string, patterns []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "images: stat %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("images: %s is not a directory", dir)
	}

	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, eris.Errorf("images: invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, eris.Wrapf(err, "images: glob %q in %s", pattern, dir)
		}
		for _, m := range matches {
			p := filepath.Join(dir, filepath.FromSlash(m))
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads path and base64-encodes it.
func Load(path string) (*Image, error) {
	mt, ok := MediaType(path)
	if !ok {
		return nil, eris.Errorf("images: unsupported image type %q", filepath.Ext(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "images: read %s", path)
	}
	if len(raw) == 0 {
		return nil, eris.Errorf("images: %s is empty", path)
	}
	return &Image{
		Path:      path,
		MediaType: mt,
		Data:      base64.StdEncoding.EncodeToString(raw),
		Size:      len(raw),
	}, nil
}
