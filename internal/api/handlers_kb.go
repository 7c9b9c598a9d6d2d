package api

import (
	"fmt"
	"net/http"

	"juris/internal/knowledge"
	"juris/internal/types"
)

func (s *Server) handleListBases(w http.ResponseWriter, r *http.Request, _ params) error {
	bases, err := s.knowledge.ListBases(r.Context(), userID(r))
	if err != nil {
		return err
	}
	if bases == nil {
		bases = []*types.KnowledgeBase{}
	}
	ok(w, bases)
	return nil
}

func (s *Server) handleCreateBase(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	kb, err := s.knowledge.CreateBase(r.Context(), userID(r), req.Name, req.Description)
	if err != nil {
		return err
	}
	created(w, kb)
	return nil
}

func (s *Server) handleGetBase(w http.ResponseWriter, r *http.Request, p params) error {
	kb, err := s.knowledge.GetBase(r.Context(), userID(r), p.ByName("id"))
	if err != nil {
		return err
	}
	ok(w, kb)
	return nil
}

func (s *Server) handleUpdateBase(w http.ResponseWriter, r *http.Request, p params) error {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	ctx, uid, id := r.Context(), userID(r), p.ByName("id")
	kb, err := s.knowledge.GetBase(ctx, uid, id)
	if err != nil {
		return err
	}
	name, desc := kb.Name, kb.Description
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		desc = *req.Description
	}
	kb, err = s.knowledge.UpdateBase(ctx, uid, id, name, desc)
	if err != nil {
		return err
	}
	ok(w, kb)
	return nil
}

func (s *Server) handleDeleteBase(w http.ResponseWriter, r *http.Request, p params) error {
	if err := s.knowledge.DeleteBase(r.Context(), userID(r), p.ByName("id")); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, p params) error {
	docs, err := s.knowledge.ListDocuments(r.Context(), userID(r), p.ByName("id"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*types.KnowledgeDocument{}
	}
	ok(w, docs)
	return nil
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request, p params) error {
	var req struct {
		FileID string `json:"file_id"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if req.FileID == "" {
		return fmt.Errorf("file_id is required: %w", types.ErrInvalid)
	}
	doc, err := s.knowledge.AddDocument(r.Context(), userID(r), p.ByName("id"), req.FileID)
	if err != nil {
		return err
	}
	created(w, doc)
	return nil
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, p params) error {
	if err := s.knowledge.DeleteDocument(r.Context(), userID(r), p.ByName("id"), p.ByName("docId")); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, p params) error {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	results, err := s.knowledge.Search(r.Context(), userID(r), []string{p.ByName("id")}, req.Query, req.TopK)
	if err != nil {
		return err
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	ok(w, results)
	return nil
}
