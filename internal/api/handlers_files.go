package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"juris/internal/types"
)

// multipartSlack covers multipart headers and boundaries around the file.
const multipartSlack = 1 << 20

// handleUpload streams the multipart "file" field into storage without
// buffering it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ params) error {
	if max := s.files.MaxBytes(); max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartSlack)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("expected multipart/form-data: %w", types.ErrInvalid)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("missing file field: %w", types.ErrInvalid)
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return err
			}
			return fmt.Errorf("read multipart body: %w", types.ErrInvalid)
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}
		f, err := s.files.Upload(r.Context(), userID(r), part.FileName(), part, -1)
		part.Close()
		if err != nil {
			return err
		}
		created(w, f)
		return nil
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, _ params) error {
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		return err
	}
	files, err := s.files.List(r.Context(), userID(r), min(limit, 200), offset)
	if err != nil {
		return err
	}
	if files == nil {
		files = []*types.FileObject{}
	}
	ok(w, files)
	return nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, p params) error {
	f, rc, err := s.files.Open(r.Context(), userID(r), p.ByName("id"))
	if err != nil {
		return err
	}
	defer rc.Close()
	return sendFile(w, f.OriginalName, f.ContentType, f.Size, rc)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, p params) error {
	if err := s.files.Delete(r.Context(), userID(r), p.ByName("id")); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}
