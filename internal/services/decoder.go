package services

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/doctalk/doctalk-backend/internal/apperr"
)

// DocumentDecoder turns an uploaded file into extractable text.
type DocumentDecoder interface {
	Decode(data []byte, filename string) (string, error)
}

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".tsv":      true,
	".json":     true,
	".log":      true,
	".xml":      true,
	".html":     true,
	".htm":      true,
	".yaml":     true,
	".yml":      true,
}

// textDecoder handles plain-text formats. Binary formats (pdf, docx)
// are delegated to an external extraction service and are out of scope
// here.
type textDecoder struct{}

func NewTextDecoder() DocumentDecoder { return textDecoder{} }

func (textDecoder) Decode(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !textExtensions[ext] {
		return "", apperr.Newf(apperr.KindUnsupported, "unsupported file type %q", ext)
	}
	if !utf8.Valid(data) {
		return "", apperr.Newf(apperr.KindUnsupported, "%s is not valid UTF-8 text", filename)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", apperr.Newf(apperr.KindNoContent, "no extractable text in %s", filename)
	}
	return text, nil
}
