package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const (
	kbColumns    = "id, user_id, name, description, document_count, created_at, updated_at"
	kdocColumns  = "id, kb_id, file_id, title, status, chunk_count, error, created_at"
	chunkColumns = "id, doc_id, kb_id, ordinal, content, embedding"
)

// =============================================================================
// KNOWLEDGE BASES
// =============================================================================

// CreateKnowledgeBase inserts a knowledge base. Names are unique per user.
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *types.KnowledgeBase) (*types.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	now := s.now()
	kb.CreatedAt, kb.UpdatedAt = now, now
	kb.DocumentCount = 0

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, user_id, name, description, document_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		kb.ID, kb.UserID, kb.Name, kb.Description, kb.CreatedAt, kb.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("knowledge base %q already exists: %w", kb.Name, types.ErrConflict)
		}
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}
	logging.StoreDebug("Created knowledge base id=%s name=%s", kb.ID, kb.Name)
	return kb, nil
}

// GetKnowledgeBase returns a knowledge base owned by userID.
func (s *Store) GetKnowledgeBase(ctx context.Context, userID, id string) (*types.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kb, err := scanKnowledgeBase(s.db.QueryRowContext(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases WHERE id = ? AND user_id = ?", id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("knowledge base", id)
	}
	return kb, err
}

// ListKnowledgeBases returns the user's knowledge bases by name.
func (s *Store) ListKnowledgeBases(ctx context.Context, userID string) ([]*types.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases WHERE user_id = ? ORDER BY name ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []*types.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

// UpdateKnowledgeBase renames or re-describes a knowledge base.
func (s *Store) UpdateKnowledgeBase(ctx context.Context, userID, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_bases SET name = ?, description = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		name, description, s.now(), id, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("knowledge base %q already exists: %w", name, types.ErrConflict)
		}
		return fmt.Errorf("update knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("knowledge base", id)
	}
	return nil
}

// DeleteKnowledgeBase removes a knowledge base with its documents and chunks.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_bases WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("delete knowledge base: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("knowledge base", id)
		}
		// chunks reference documents, documents cascade from the base
		if _, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE kb_id = ?", id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return nil
	})
}

func scanKnowledgeBase(r rowScanner) (*types.KnowledgeBase, error) {
	var kb types.KnowledgeBase
	if err := r.Scan(&kb.ID, &kb.UserID, &kb.Name, &kb.Description, &kb.DocumentCount, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
		return nil, err
	}
	return &kb, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// CreateDocument inserts a pending document and increments the base's count.
func (s *Store) CreateDocument(ctx context.Context, d *types.KnowledgeDocument) (*types.KnowledgeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = types.DocumentPending
	}
	d.CreatedAt = s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_documents (id, kb_id, file_id, title, status, chunk_count, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.KBID, d.FileID, d.Title, string(d.Status), d.ChunkCount, d.Error, d.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE knowledge_bases SET document_count = document_count + 1, updated_at = ? WHERE id = ?",
			d.CreatedAt, d.KBID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDocuments returns a knowledge base's documents, oldest first.
func (s *Store) ListDocuments(ctx context.Context, kbID string) ([]*types.KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+kdocColumns+" FROM knowledge_documents WHERE kb_id = ? ORDER BY created_at ASC", kbID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*types.KnowledgeDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus records the outcome of indexing.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status types.DocumentStatus, chunkCount int, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_documents SET status = ?, chunk_count = ?, error = ? WHERE id = ?",
		string(status), chunkCount, errText, id)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("document", id)
	}
	return nil
}

// DeleteDocument removes a document and its chunks and decrements the count.
func (s *Store) DeleteDocument(ctx context.Context, kbID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE doc_id = ?", id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_documents WHERE id = ? AND kb_id = ?", id, kbID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("document", id)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE knowledge_bases SET document_count = MAX(document_count - 1, 0), updated_at = ? WHERE id = ?",
			s.now(), kbID)
		return err
	})
}

func scanDocument(r rowScanner) (*types.KnowledgeDocument, error) {
	var d types.KnowledgeDocument
	var status string
	if err := r.Scan(&d.ID, &d.KBID, &d.FileID, &d.Title, &status, &d.ChunkCount, &d.Error, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = types.DocumentStatus(status)
	return &d, nil
}

// =============================================================================
// CHUNKS
// =============================================================================

// ReplaceChunks swaps every chunk of a document for the given set.
func (s *Store) ReplaceChunks(ctx context.Context, docID string, chunks []types.KnowledgeChunk) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceChunks")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE doc_id = ?", docID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO knowledge_chunks (doc_id, kb_id, ordinal, content, embedding) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, docID, c.KBID, c.Ordinal, c.Content, encodeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
			}
		}
		logging.StoreDebug("Stored %d chunks for document %s", len(chunks), docID)
		return nil
	})
}

// ListChunks returns all chunks of the given knowledge bases.
func (s *Store) ListChunks(ctx context.Context, kbIDs ...string) ([]types.KnowledgeChunk, error) {
	if len(kbIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := "?"
	args := []interface{}{kbIDs[0]}
	for _, id := range kbIDs[1:] {
		placeholders += ", ?"
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM knowledge_chunks WHERE kb_id IN ("+placeholders+") ORDER BY doc_id, ordinal", args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []types.KnowledgeChunk
	for rows.Next() {
		var c types.KnowledgeChunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocID, &c.KBID, &c.Ordinal, &c.Content, &blob); err != nil {
			return nil, err
		}
		c.Embedding = decodeEmbedding(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32s. Nil stays NULL.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
