package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const fileColumns = "id, user_id, original_name, content_type, size, sha256, storage_key, backend, created_at"

// CreateFile records an uploaded object.
func (s *Store) CreateFile(ctx context.Context, f *types.FileObject) (*types.FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, user_id, original_name, content_type, size, sha256, storage_key, backend, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.OriginalName, f.ContentType, f.Size, f.SHA256, f.StorageKey, f.Backend, f.CreatedAt,
	)
	if err != nil {
		logging.StoreError("Failed to record file %s: %v", f.OriginalName, err)
		return nil, fmt.Errorf("create file: %w", err)
	}
	logging.StoreDebug("Recorded file id=%s key=%s size=%d", f.ID, f.StorageKey, f.Size)
	return f, nil
}

// GetFile returns a file owned by userID. An empty userID skips the
// ownership check.
func (s *Store) GetFile(ctx context.Context, userID, id string) (*types.FileObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + fileColumns + " FROM files WHERE id = ?"
	args := []interface{}{id}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	f, err := scanFile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("file", id)
	}
	return f, err
}

// ListFiles returns the user's files, newest first.
func (s *Store) ListFiles(ctx context.Context, userID string, limit, offset int) ([]*types.FileObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*types.FileObject
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file record owned by userID.
func (s *Store) DeleteFile(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("file", id)
	}
	return nil
}

func scanFile(r rowScanner) (*types.FileObject, error) {
	var f types.FileObject
	if err := r.Scan(&f.ID, &f.UserID, &f.OriginalName, &f.ContentType, &f.Size, &f.SHA256, &f.StorageKey, &f.Backend, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
