// Package assets loads the prompt templates and JSON schemas that drive the
// backends. Files in the configured directory override the embedded defaults.
package assets

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed defaults
var embedded embed.FS

// Asset paths relative to the assets directory.
const (
	ExtractionPrompt     = "prompts/imageExtraction.txt"
	ValidationPrompt     = "prompts/validateImageExtraction.txt"
	FinalizePrompt       = "prompts/finalize.txt"
	FinalizePlayerPrompt = "prompts/finalizePlayer.txt"
	PlayerSchema         = "schemas/playerdata.json"
	ValidationSchema     = "schemas/validate.json"
)

// Placeholder names.
const (
	KeyImageData        = "image_data"
	KeyJSONExtracted    = "json_extracted"
	KeyExtractedPlayers = "extracted_players"
)

// Files lists every asset path in load order.
var Files = []string{
	ExtractionPrompt,
	ValidationPrompt,
	FinalizePrompt,
	FinalizePlayerPrompt,
	PlayerSchema,
	ValidationSchema,
}

// Source tells where an asset was read from.
type Source string

const (
	SourceDir      Source = "dir"
	SourceEmbedded Source = "embedded"
)

// Set is the loaded, validated collection of prompts and schemas.
type Set struct {
	Extraction     *Template
	Validation     *Template
	Finalize       *Template
	FinalizePlayer *Template
	Players        *Schema
	Validate       *Schema

	Sources map[string]Source
}

// Defaults loads the embedded assets only.
func Defaults() (*Set, error) {
	return Load("")
}

// Load reads every asset from dir, falling back to the embedded default for
// files that do not exist there. Required placeholders and schema shapes are
// checked before returning.
func Load(dir string) (*Set, error) {
	defaults, err := fs.Sub(embedded, "defaults")
	if err != nil {
		return nil, eris.Wrap(err, "assets: open embedded defaults")
	}

	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, eris.Wrapf(err, "assets: stat %s", dir)
		}
		if !info.IsDir() {
			return nil, eris.Errorf("assets: %s is not a directory", dir)
		}
	}

	set := &Set{Sources: make(map[string]Source, len(Files))}
	read := func(name string) ([]byte, error) {
		if dir != "" {
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err == nil {
				set.Sources[name] = SourceDir
				return data, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, eris.Wrapf(err, "assets: read %s", name)
			}
		}
		data, err := fs.ReadFile(defaults, name)
		if err != nil {
			return nil, eris.Wrapf(err, "assets: read embedded %s", name)
		}
		set.Sources[name] = SourceEmbedded
		return data, nil
	}

	text := func(name string, required ...string) (*Template, error) {
		data, err := read(name)
		if err != nil {
			return nil, err
		}
		t := ParseTemplate(name, string(data))
		if err := t.Require(required...); err != nil {
			return nil, err
		}
		return t, nil
	}

	schema := func(name, root string) (*Schema, error) {
		data, err := read(name)
		if err != nil {
			return nil, err
		}
		return ParseSchema(name, data, root)
	}

	if set.Extraction, err = text(ExtractionPrompt); err != nil {
		return nil, err
	}
	if set.Validation, err = text(ValidationPrompt, KeyJSONExtracted); err != nil {
		return nil, err
	}
	if set.Finalize, err = text(FinalizePrompt, KeyExtractedPlayers); err != nil {
		return nil, err
	}
	if set.FinalizePlayer, err = text(FinalizePlayerPrompt, "name"); err != nil {
		return nil, err
	}
	if set.Players, err = schema(PlayerSchema, "players"); err != nil {
		return nil, err
	}
	if set.Validate, err = schema(ValidationSchema, "validate"); err != nil {
		return nil, err
	}

	zap.L().Debug("assets: loaded",
		zap.String("dir", dir),
		zap.Any("sources", set.Sources),
	)
	return set, nil
}

// WriteDefaults copies the embedded assets into dir. Existing files are kept
// unless overwrite is set. It returns the paths that were written.
func WriteDefaults(dir string, overwrite bool) ([]string, error) {
	defaults, err := fs.Sub(embedded, "defaults")
	if err != nil {
		return nil, eris.Wrap(err, "assets: open embedded defaults")
	}

	var written []string
	for _, name := range Files {
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if !overwrite {
			if _, err := os.Stat(dst); err == nil {
				continue
			}
		}
		data, err := fs.ReadFile(defaults, name)
		if err != nil {
			return written, eris.Wrapf(err, "assets: read embedded %s", name)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return written, eris.Wrapf(err, "assets: create %s", filepath.Dir(dst))
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return written, eris.Wrapf(err, "assets: write %s", dst)
		}
		written = append(written, dst)
	}
	return written, nil
}
