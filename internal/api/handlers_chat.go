package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"juris/internal/chat"
	"juris/internal/export"
	"juris/internal/logging"
	"juris/internal/types"
)

const keepAliveInterval = 15 * time.Second

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request, _ params) error {
	ok(w, s.chat.Personas())
	return nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, _ params) error {
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		return err
	}
	convs, err := s.chat.List(r.Context(), userID(r), types.ConversationFilter{
		Keyword: r.URL.Query().Get("keyword"),
		Limit:   min(limit, 200),
		Offset:  offset,
	})
	if err != nil {
		return err
	}
	if convs == nil {
		convs = []*types.Conversation{}
	}
	ok(w, convs)
	return nil
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		Title   string `json:"title"`
		Persona string `json:"persona"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	conv, err := s.chat.Create(r.Context(), userID(r), req.Title, req.Persona)
	if err != nil {
		return err
	}
	created(w, conv)
	return nil
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, p params) error {
	conv, err := s.chat.Get(r.Context(), userID(r), p.ByName("id"))
	if err != nil {
		return err
	}
	ok(w, conv)
	return nil
}

// handleUpdateConversation applies whichever of title, pinned and persona
// the body carries.
func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request, p params) error {
	var req struct {
		Title   *string `json:"title"`
		Pinned  *bool   `json:"pinned"`
		Persona *string `json:"persona"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	ctx, uid, id := r.Context(), userID(r), p.ByName("id")
	if req.Title != nil {
		if err := s.chat.Rename(ctx, uid, id, *req.Title); err != nil {
			return err
		}
	}
	if req.Pinned != nil {
		if err := s.chat.Pin(ctx, uid, id, *req.Pinned); err != nil {
			return err
		}
	}
	if req.Persona != nil {
		if err := s.chat.SetPersona(ctx, uid, id, *req.Persona); err != nil {
			return err
		}
	}
	conv, err := s.chat.Get(ctx, uid, id)
	if err != nil {
		return err
	}
	ok(w, conv)
	return nil
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, p params) error {
	if err := s.chat.Delete(r.Context(), userID(r), p.ByName("id")); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, p params) error {
	msgs, err := s.chat.Messages(r.Context(), userID(r), p.ByName("id"))
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	ok(w, msgs)
	return nil
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request, p params) error {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return err
	}
	ctx, uid := r.Context(), userID(r)
	conv, err := s.chat.Get(ctx, uid, p.ByName("id"))
	if err != nil {
		return err
	}
	msgs, err := s.chat.Messages(ctx, uid, conv.ID)
	if err != nil {
		return err
	}
	data, err := s.exporter.Render(ctx, format, export.ConversationMarkdown(conv, msgs))
	if err != nil {
		return err
	}
	logging.Export("Exported conversation %s as %s bytes=%d", conv.ID, format, len(data))
	return sendFile(w, export.Filename(conv.Title, format), format.ContentType(), int64(len(data)), bytes.NewReader(data))
}

// handleChatStream answers as server-sent events. Errors found before the
// stream starts are ordinary JSON responses.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, _ params) error {
	var req chat.SendRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	stream, err := s.chat.Send(r.Context(), userID(r), req)
	if err != nil {
		return err
	}

	s.metrics.streamStarted()
	defer s.metrics.streamEnded()

	// Events must be drained whatever happens to the connection; the stream
	// ends on its own once the request context is cancelled.
	sse, err := chat.NewSSEWriter(w)
	if err != nil {
		for range stream.Events() {
		}
		return fmt.Errorf("start event stream: %w", err)
	}
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var writeErr error
	events := stream.Events()
	for {
		select {
		case ev, open := <-events:
			if !open {
				if writeErr != nil {
					logging.ChatDebug("Client of conversation %s went away: %v", stream.ConversationID, writeErr)
				}
				return nil
			}
			if writeErr == nil {
				writeErr = sse.Write(ev.Kind, ev.Data)
			}
		case <-ticker.C:
			if writeErr == nil {
				writeErr = sse.Comment("keep-alive")
			}
		}
	}
}

func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if req.ConversationID == "" {
		return fmt.Errorf("conversation_id is required: %w", types.ErrInvalid)
	}
	if err := s.chat.Stop(userID(r), req.ConversationID); err != nil {
		return err
	}
	ok(w, map[string]bool{"stopped": true})
	return nil
}
