package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"juris/internal/export"
	"juris/internal/types"
)

const maxExportRunes = 200000

// handleExportMarkdown converts a posted Markdown document.
func (s *Server) handleExportMarkdown(w http.ResponseWriter, r *http.Request, p params) error {
	format, err := export.ParseFormat(p.ByName("format"))
	if err != nil {
		return err
	}
	var req struct {
		Markdown string `json:"markdown"`
		Filename string `json:"filename"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Markdown) == "" {
		return fmt.Errorf("markdown is required: %w", types.ErrInvalid)
	}
	if utf8.RuneCountInString(req.Markdown) > maxExportRunes {
		return fmt.Errorf("markdown longer than %d characters: %w", maxExportRunes, types.ErrInvalid)
	}
	data, err := s.exporter.Render(r.Context(), format, req.Markdown)
	if err != nil {
		return err
	}
	name := req.Filename
	if name == "" {
		name = "answer"
	}
	name = strings.TrimSuffix(name, format.Extension())
	return sendFile(w, export.Filename(name, format), format.ContentType(), int64(len(data)), bytes.NewReader(data))
}
