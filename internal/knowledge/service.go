// Package knowledge manages knowledge bases: named collections of uploaded
// documents whose text is chunked, optionally embedded, and searched to
// give personas reference material.
package knowledge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"juris/internal/embedding"
	"juris/internal/logging"
	"juris/internal/storage"
	"juris/internal/store"
	"juris/internal/types"

	"golang.org/x/sync/errgroup"
)

const (
	maxNameRunes        = 100
	maxDocumentBytes    = 32 << 20
	embedBatchSize      = 16
	embedConcurrency    = 4
	maxSearchResults    = 20
	defaultSearchResult = 5
	excerptRunes        = 600
)

// Result is one search hit.
type Result struct {
	KBID          string  `json:"kb_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Excerpt       string  `json:"excerpt"`
	Score         float64 `json:"score"`
}

// Options tunes chunking. Zero values use the defaults.
type Options struct {
	ChunkRunes   int
	OverlapRunes int
}

// Service implements knowledge-base operations. engine may be nil, in
// which case search scores keywords.
type Service struct {
	store   *store.Store
	files   *storage.Service
	engine  embedding.Engine
	chunk   int
	overlap int
}

// NewService builds the knowledge service.
func NewService(st *store.Store, files *storage.Service, engine embedding.Engine, opts Options) *Service {
	if opts.ChunkRunes <= 0 {
		opts.ChunkRunes = DefaultChunkRunes
	}
	if opts.OverlapRunes <= 0 {
		opts.OverlapRunes = DefaultOverlapRunes
	}
	return &Service{store: st, files: files, engine: engine, chunk: opts.ChunkRunes, overlap: opts.OverlapRunes}
}

// =============================================================================
// BASES
// =============================================================================

// CreateBase creates a knowledge base. Names are unique per user.
func (s *Service) CreateBase(ctx context.Context, userID, name, description string) (*types.KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	kb, err := s.store.CreateKnowledgeBase(ctx, &types.KnowledgeBase{UserID: userID, Name: name, Description: strings.TrimSpace(description)})
	if err != nil {
		return nil, err
	}
	logging.Knowledge("Created knowledge base %s (%q) user=%s", kb.ID, name, userID)
	return kb, nil
}

// ListBases returns the user's knowledge bases.
func (s *Service) ListBases(ctx context.Context, userID string) ([]*types.KnowledgeBase, error) {
	return s.store.ListKnowledgeBases(ctx, userID)
}

// GetBase returns one of the user's knowledge bases.
func (s *Service) GetBase(ctx context.Context, userID, id string) (*types.KnowledgeBase, error) {
	return s.store.GetKnowledgeBase(ctx, userID, id)
}

// UpdateBase renames a knowledge base and replaces its description.
func (s *Service) UpdateBase(ctx context.Context, userID, id, name, description string) (*types.KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.store.UpdateKnowledgeBase(ctx, userID, id, name, strings.TrimSpace(description)); err != nil {
		return nil, err
	}
	return s.store.GetKnowledgeBase(ctx, userID, id)
}

// DeleteBase removes a knowledge base with its documents and chunks. The
// uploaded files themselves are kept.
func (s *Service) DeleteBase(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteKnowledgeBase(ctx, userID, id); err != nil {
		return err
	}
	logging.Knowledge("Deleted knowledge base %s user=%s", id, userID)
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required: %w", types.ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return fmt.Errorf("name longer than %d characters: %w", maxNameRunes, types.ErrInvalid)
	}
	return nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// AddDocument links an uploaded file into a knowledge base and indexes it.
// Extraction or embedding problems do not fail the call: the document is
// returned with status "failed" and the reason in Error.
func (s *Service) AddDocument(ctx context.Context, userID, kbID, fileID string) (*types.KnowledgeDocument, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "AddDocument")
	defer timer.Stop()

	if _, err := s.store.GetKnowledgeBase(ctx, userID, kbID); err != nil {
		return nil, err
	}
	file, rc, err := s.files.Open(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}

	doc, err := s.store.CreateDocument(ctx, &types.KnowledgeDocument{
		KBID:   kbID,
		FileID: fileID,
		Title:  file.OriginalName,
		Status: types.DocumentPending,
	})
	if err != nil {
		return nil, err
	}

	var count int
	if len(data) > maxDocumentBytes {
		err = fmt.Errorf("document larger than %d bytes: %w", maxDocumentBytes, types.ErrInvalid)
	} else {
		count, err = s.index(ctx, doc, file.OriginalName, data)
	}
	if err != nil {
		logging.KnowledgeWarn("Indexing %s (%s) failed: %v", doc.ID, file.OriginalName, err)
		doc.Status, doc.ChunkCount, doc.Error = types.DocumentFailed, 0, err.Error()
	} else {
		doc.Status, doc.ChunkCount, doc.Error = types.DocumentIndexed, count, ""
	}
	if uerr := s.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, doc.Status, doc.ChunkCount, doc.Error); uerr != nil {
		return nil, uerr
	}
	logging.Knowledge("Document %s in kb=%s status=%s chunks=%d", doc.ID, kbID, doc.Status, doc.ChunkCount)
	return doc, nil
}

// index extracts, chunks and embeds data, then replaces the stored chunks.
func (s *Service) index(ctx context.Context, doc *types.KnowledgeDocument, name string, data []byte) (int, error) {
	text, err := ExtractText(name, data)
	if err != nil {
		return 0, err
	}
	pieces := Chunk(text, s.chunk, s.overlap)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("no text found: %w", types.ErrInvalid)
	}

	vectors, err := s.embedAll(ctx, pieces)
	if err != nil {
		return 0, err
	}

	chunks := make([]types.KnowledgeChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = types.KnowledgeChunk{DocID: doc.ID, KBID: doc.KBID, Ordinal: i, Content: p}
		if vectors != nil {
			chunks[i].Embedding = vectors[i]
		}
	}
	if err := s.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// embedAll embeds texts in batches, at most embedConcurrency at a time.
// It returns nil without an engine.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if s.engine == nil {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(texts); start += embedBatchSize {
		start, end := start, min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.engine.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding engine returned %d vectors for %d chunks", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.EmbeddingDebug("Embedded %d chunks with %s", len(texts), s.engine.Name())
	return out, nil
}

// ListDocuments returns the documents of one of the user's knowledge bases.
func (s *Service) ListDocuments(ctx context.Context, userID, kbID string) ([]*types.KnowledgeDocument, error) {
	if _, err := s.store.GetKnowledgeBase(ctx, userID, kbID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, kbID)
}

// DeleteDocument removes a document and its chunks.
func (s *Service) DeleteDocument(ctx context.Context, userID, kbID, docID string) error {
	if _, err := s.store.GetKnowledgeBase(ctx, userID, kbID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, kbID, docID); err != nil {
		return err
	}
	logging.Knowledge("Deleted document %s from kb=%s", docID, kbID)
	return nil
}
