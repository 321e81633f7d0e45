// Package validation gates uploads before any bytes reach storage: content
// type allowlist, per-category size ceilings, magic-byte verification of the
// declared type, and filename sanitization.
package validation

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	evalhub_errors "evalhub/pkg/errors"
)

// Category groups content types for size-ceiling purposes.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
)

var contentTypeCategories = map[string]Category{
	"image/jpeg":      CategoryImage,
	"image/png":       CategoryImage,
	"image/webp":      CategoryImage,
	"image/gif":       CategoryImage,
	"video/mp4":       CategoryVideo,
	"video/webm":      CategoryVideo,
	"video/quicktime": CategoryVideo,
	"audio/mpeg":      CategoryAudio,
	"audio/wav":       CategoryAudio,
	"audio/ogg":       CategoryAudio,
	"application/pdf": CategoryDocument,
}

// pattern is one magic-byte match at a fixed offset.
type pattern struct {
	offset int
	magic  []byte
}

// signature is a conjunction of patterns; a content type is accepted when
// any one of its signatures matches in full. WEBP therefore requires both
// the RIFF container marker and the WEBP form type.
type signature []pattern

var magicSignatures = map[string][]signature{
	"image/jpeg": {
		{{0, []byte{0xFF, 0xD8, 0xFF}}},
	},
	"image/png": {
		{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}},
	},
	"image/webp": {
		{{0, []byte("RIFF")}, {8, []byte("WEBP")}},
	},
	"image/gif": {
		{{0, []byte("GIF87a")}},
		{{0, []byte("GIF89a")}},
	},
	"video/mp4": {
		{{4, []byte("ftyp")}},
	},
	"video/quicktime": {
		{{4, []byte("ftyp")}},
	},
	"video/webm": {
		{{0, []byte{0x1A, 0x45, 0xDF, 0xA3}}},
	},
	"audio/mpeg": {
		{{0, []byte{0xFF, 0xFB}}},
		{{0, []byte{0xFF, 0xF3}}},
		{{0, []byte{0xFF, 0xF2}}},
		{{0, []byte("ID3")}},
	},
	"audio/wav": {
		{{0, []byte("RIFF")}, {8, []byte("WAVE")}},
	},
	"audio/ogg": {
		{{0, []byte("OggS")}},
	},
	"application/pdf": {
		{{0, []byte("%PDF")}},
	},
}

const mb = int64(1024 * 1024)

// Limits holds the per-category size ceilings in bytes.
type Limits struct {
	Image    int64
	Video    int64
	Audio    int64
	Document int64
}

// DefaultLimits returns the stock ceilings: 20 MB images, 200 MB video,
// 50 MB audio, 30 MB documents.
func DefaultLimits() Limits {
	return Limits{
		Image:    20 * mb,
		Video:    200 * mb,
		Audio:    50 * mb,
		Document: 30 * mb,
	}
}

// Validator applies the upload acceptance pipeline.
type Validator struct {
	limits map[Category]int64
}

func NewValidator(limits Limits) *Validator {
	return &Validator{limits: map[Category]int64{
		CategoryImage:    limits.Image,
		CategoryVideo:    limits.Video,
		CategoryAudio:    limits.Audio,
		CategoryDocument: limits.Document,
	}}
}

// ValidateContentType checks the declared type against the allowlist.
func (v *Validator) ValidateContentType(contentType string) error {
	if _, ok := contentTypeCategories[contentType]; !ok {
		return fmt.Errorf("%w: content type %q is not allowed", evalhub_errors.ErrValidation, contentType)
	}
	return nil
}

// ValidateFileSize checks size against the ceiling for the type's category.
func (v *Validator) ValidateFileSize(size int64, contentType string) error {
	category, ok := contentTypeCategories[contentType]
	if !ok {
		return fmt.Errorf("%w: content type %q is not allowed", evalhub_errors.ErrValidation, contentType)
	}
	limit := v.limits[category]
	if size > limit {
		return fmt.Errorf("%w: file size %d exceeds %s limit of %d bytes", evalhub_errors.ErrValidation, size, category, limit)
	}
	return nil
}

// ValidateMagicBytes reports whether the file content matches the declared
// content type. Unknown types never match.
func ValidateMagicBytes(data []byte, contentType string) bool {
	signatures, ok := magicSignatures[contentType]
	if !ok {
		return false
	}
	for _, sig := range signatures {
		if matchSignature(data, sig) {
			return true
		}
	}
	return false
}

func matchSignature(data []byte, sig signature) bool {
	for _, p := range sig {
		end := p.offset + len(p.magic)
		if len(data) < end {
			return false
		}
		if !bytes.Equal(data[p.offset:end], p.magic) {
			return false
		}
	}
	return true
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.\-]`)
	collapseRe  = regexp.MustCompile(`[\s_]+`)
)

// SanitizeFilename strips path components and characters outside
// letters/digits/underscore/dot/dash, collapses whitespace and underscore
// runs, drops leading dots, and truncates to 255 bytes preserving the
// extension. The result never escapes a directory.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = collapseRe.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	name = truncateName(name, 255)
	if name == "" {
		return "unnamed_file"
	}
	return name
}

// truncateName cuts to max bytes at a rune boundary, keeping the extension.
func truncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	keep := max - len(ext)
	if len(base) > keep {
		for keep > 0 && !utf8.RuneStart(base[keep]) {
			keep--
		}
		base = base[:keep]
	}
	return base + ext
}

// ValidateUpload runs the full acceptance pipeline in order: allowlist,
// size ceiling, magic bytes, sanitization. It returns the sanitized
// filename to store.
func (v *Validator) ValidateUpload(data []byte, contentType, filename string) (string, error) {
	if err := v.ValidateContentType(contentType); err != nil {
		return "", err
	}
	if err := v.ValidateFileSize(int64(len(data)), contentType); err != nil {
		return "", err
	}
	if !ValidateMagicBytes(data, contentType) {
		return "", fmt.Errorf("%w: file content does not match declared type %s", evalhub_errors.ErrValidation, contentType)
	}
	return SanitizeFilename(filename), nil
}
