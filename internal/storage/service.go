package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"juris/internal/logging"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the size limit.
var ErrTooLarge = fmt.Errorf("file too large: %w", types.ErrInvalid)

// DefaultAllowedExtensions is used when the configuration lists none.
var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".md", ".png", ".jpg", ".jpeg"}

const maxNameRunes = 200

// contentTypes maps allowed extensions to the type stored with the object.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Service validates uploads and records them alongside their bytes.
type Service struct {
	store    *store.Store
	bucket   Bucket
	maxBytes int64
	allowed  map[string]bool
	now      func() time.Time
}

// NewService builds the upload service. An empty allow-list uses
// DefaultAllowedExtensions.
func NewService(st *store.Store, bucket Bucket, maxBytes int64, allowed []string) *Service {
	if len(allowed) == 0 {
		allowed = DefaultAllowedExtensions
	}
	set := make(map[string]bool, len(allowed))
	for _, ext := range allowed {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return &Service{
		store:    st,
		bucket:   bucket,
		maxBytes: maxBytes,
		allowed:  set,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Bucket returns the backing object store.
func (s *Service) Bucket() Bucket { return s.bucket }

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload stores r as a new file of userID. size is the declared length or
// -1 when unknown; the limit is enforced on the bytes actually read.
func (s *Service) Upload(ctx context.Context, userID, filename string, r io.Reader, size int64) (*types.FileObject, error) {
	timer := logging.StartTimer(logging.CategoryStorage, "Upload")
	defer timer.Stop()

	name, ext, err := s.checkName(filename)
	if err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", name, size, s.maxBytes, ErrTooLarge)
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%s is empty: %w", name, types.ErrInvalid)
	}
	contentType, err := sniff(ext, head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	id := uuid.NewString()
	now := s.now()
	key := fmt.Sprintf("%s/%04d/%02d/%s%s", userID, now.Year(), int(now.Month()), id, ext)

	hash := sha256.New()
	counted := &limitedReader{r: io.TeeReader(br, hash), limit: s.maxBytes}
	if err := s.bucket.Put(ctx, key, counted, size, contentType); err != nil {
		if counted.exceeded {
			return nil, fmt.Errorf("%s exceeds %d bytes: %w", name, s.maxBytes, ErrTooLarge)
		}
		return nil, fmt.Errorf("store %s: %w", name, err)
	}

	f, err := s.store.CreateFile(ctx, &types.FileObject{
		ID:           id,
		UserID:       userID,
		OriginalName: name,
		ContentType:  contentType,
		Size:         counted.n,
		SHA256:       hex.EncodeToString(hash.Sum(nil)),
		StorageKey:   key,
		Backend:      s.bucket.Name(),
	})
	if err != nil {
		if derr := s.bucket.Delete(context.WithoutCancel(ctx), key); derr != nil {
			logging.StorageWarn("Orphaned object %s after failed insert: %v", key, derr)
		}
		return nil, err
	}
	logging.Storage("Uploaded %s user=%s id=%s size=%d type=%s", name, userID, id, f.Size, contentType)
	return f, nil
}

// Open returns the file record and a reader on its bytes.
func (s *Service) Open(ctx context.Context, userID, id string) (*types.FileObject, io.ReadCloser, error) {
	f, err := s.store.GetFile(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.bucket.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// List returns the user's files, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*types.FileObject, error) {
	return s.store.ListFiles(ctx, userID, limit, offset)
}

// Delete removes the object and its record.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	f, err := s.store.GetFile(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, f.StorageKey); err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, userID, id); err != nil {
		return err
	}
	logging.Storage("Deleted file %s user=%s", id, userID)
	return nil
}

// checkName returns the base name and lower-cased extension of filename.
func (s *Service) checkName(filename string) (string, string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" || name == "" || !utf8.ValidString(name) {
		return "", "", fmt.Errorf("invalid file name %q: %w", filename, types.ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	ext := strings.ToLower(path.Ext(name))
	if !s.allowed[ext] {
		return "", "", fmt.Errorf("file type %q is not allowed: %w", ext, types.ErrInvalid)
	}
	return name, ext, nil
}

// sniff checks the leading bytes against the extension and returns the
// content type to store.
func sniff(ext string, head []byte) (string, error) {
	detected := http.DetectContentType(head)
	base, _, _ := strings.Cut(detected, ";")

	ok := true
	switch ext {
	case ".pdf":
		ok = base == "application/pdf"
	case ".png":
		ok = base == "image/png"
	case ".jpg", ".jpeg":
		ok = base == "image/jpeg"
	case ".docx":
		ok = base == "application/zip"
	case ".txt", ".md", ".html", ".htm":
		ok = strings.HasPrefix(base, "text/")
	}
	if !ok {
		return "", fmt.Errorf("content %s does not match extension %s: %w", base, ext, types.ErrInvalid)
	}
	if ct, known := contentTypes[ext]; known {
		return ct, nil
	}
	return detected, nil
}

// limitedReader counts bytes and fails once more than limit are read.
type limitedReader struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.limit > 0 && l.n > l.limit {
		l.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
