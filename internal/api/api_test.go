package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"juris/internal/agent"
	"juris/internal/auth"
	"juris/internal/chat"
	"juris/internal/config"
	"juris/internal/export"
	"juris/internal/knowledge"
	"juris/internal/llm"
	"juris/internal/share"
	"juris/internal/storage"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoClient streams a fixed answer in two pieces.
type echoClient struct{}

func (echoClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "Deposit question"}, nil
}

func (echoClient) Stream(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, d := range []string{"You may ", "claim it back."} {
			select {
			case chunks <- llm.Chunk{Delta: d}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

func (echoClient) Name() string { return "echo" }

type fixture struct {
	t      *testing.T
	server *Server
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret-0123456789"
	cfg.Auth.BcryptCost = 4
	cfg.Server.CORSOrigins = []string{"https://app.example.com"}

	authSvc, err := auth.NewService(st, cfg.Auth, auth.NewSQLiteSessions(st))
	require.NoError(t, err)

	bucket, err := storage.NewLocalBucket(t.TempDir())
	require.NoError(t, err)
	files := storage.NewService(st, bucket, 4096, nil)
	kb := knowledge.NewService(st, files, nil, knowledge.Options{})

	runner := agent.NewRunner(echoClient{}, agent.NewRegistry(), 0)
	chatSvc := chat.NewService(st, runner, kb, chat.Options{TitleTimeout: time.Second})
	t.Cleanup(chatSvc.Wait)

	srv := New(Deps{
		Config:    cfg,
		Store:     st,
		Auth:      authSvc,
		Chat:      chatSvc,
		Files:     files,
		Knowledge: kb,
		Shares:    share.NewService(st, cfg.GetShareMaxTTL()),
		Exporter:  export.New("/nonexistent/chromium", time.Second),
	})
	f := &fixture{t: t, server: srv}

	rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "s3cret-pass"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var login auth.LoginResult
	f.decode(f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "s3cret-pass"}), http.StatusOK, &login)
	require.NotEmpty(t, login.Token)
	f.token = login.Token
	return f
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// decode checks the status and envelope and unmarshals data into v.
func (f *fixture) decode(rec *httptest.ResponseRecorder, status int, v any) envelope {
	f.t.Helper()
	require.Equal(f.t, status, rec.Code, rec.Body.String())
	var env struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env))
	if status < 300 {
		require.Equal(f.t, 0, env.Code)
	} else {
		require.Equal(f.t, status, env.Code)
	}
	if v != nil {
		require.NoError(f.t, json.Unmarshal(env.Data, v))
	}
	return envelope{Code: env.Code, Message: env.Message}
}

func TestAuthEndpoints(t *testing.T) {
	f := newFixture(t)

	var me types.User
	f.decode(f.do(http.MethodGet, "/api/auth/me", f.token, nil), http.StatusOK, &me)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, types.RoleUser, me.Role)

	env := f.decode(f.do(http.MethodGet, "/api/auth/me", "", nil), http.StatusUnauthorized, nil)
	assert.Equal(t, "authentication required", env.Message)
	f.decode(f.do(http.MethodGet, "/api/auth/me", "garbage", nil), http.StatusUnauthorized, nil)

	f.decode(f.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "s3cret-pass"}), http.StatusConflict, nil)
	f.decode(f.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "bob", "password": "short"}), http.StatusBadRequest, nil)
	f.decode(f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass1"}), http.StatusUnauthorized, nil)
	f.decode(f.do(http.MethodPost, "/api/auth/login", "", "{not json"), http.StatusBadRequest, nil)

	var updated types.User
	f.decode(f.do(http.MethodPut, "/api/auth/profile", f.token, map[string]string{"display_name": "Alice L.", "email": "alice@example.com"}), http.StatusOK, &updated)
	assert.Equal(t, "Alice L.", updated.DisplayName)

	var refreshed auth.LoginResult
	f.decode(f.do(http.MethodPost, "/api/auth/refresh", f.token, nil), http.StatusOK, &refreshed)
	require.NotEmpty(t, refreshed.Token)
	// the refreshed-away token is dead
	f.decode(f.do(http.MethodGet, "/api/auth/me", f.token, nil), http.StatusUnauthorized, nil)

	f.decode(f.do(http.MethodPut, "/api/auth/password", refreshed.Token, map[string]string{"old_password": "s3cret-pass", "new_password": "n3w-password"}), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/auth/me", refreshed.Token, nil), http.StatusUnauthorized, nil)

	var login auth.LoginResult
	f.decode(f.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "n3w-password"}), http.StatusOK, &login)
	f.decode(f.do(http.MethodPost, "/api/auth/logout", login.Token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/auth/me", login.Token, nil), http.StatusUnauthorized, nil)
}

func TestRequestIDAndNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/nowhere", "", nil)
	f.decode(rec, http.StatusNotFound, nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	f.decode(rec, http.StatusOK, nil)
}

func TestConversationEndpoints(t *testing.T) {
	f := newFixture(t)

	var personas []agent.Persona
	f.decode(f.do(http.MethodGet, "/api/personas", f.token, nil), http.StatusOK, &personas)
	require.GreaterOrEqual(t, len(personas), 3)
	assert.Equal(t, agent.PersonaConsultation, personas[0].Key)

	var conv types.Conversation
	f.decode(f.do(http.MethodPost, "/api/conversations", f.token, map[string]string{"title": "Lease", "persona": agent.PersonaRisk}), http.StatusCreated, &conv)
	assert.Equal(t, agent.PersonaRisk, conv.Persona)

	f.decode(f.do(http.MethodPost, "/api/conversations", f.token, map[string]string{"persona": "astrologer"}), http.StatusNotFound, nil)

	var patched types.Conversation
	f.decode(f.do(http.MethodPatch, "/api/conversations/"+conv.ID, f.token, map[string]any{"title": "Lease review", "pinned": true, "persona": agent.PersonaCase}), http.StatusOK, &patched)
	assert.Equal(t, "Lease review", patched.Title)
	assert.True(t, patched.Pinned)
	assert.Equal(t, agent.PersonaCase, patched.Persona)

	var list []types.Conversation
	f.decode(f.do(http.MethodGet, "/api/conversations?keyword=review", f.token, nil), http.StatusOK, &list)
	require.Len(t, list, 1)
	f.decode(f.do(http.MethodGet, "/api/conversations?limit=-1", f.token, nil), http.StatusBadRequest, nil)

	var msgs []types.Message
	f.decode(f.do(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", f.token, nil), http.StatusOK, &msgs)
	assert.Empty(t, msgs)

	f.decode(f.do(http.MethodDelete, "/api/conversations/"+conv.ID, f.token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/conversations/"+conv.ID, f.token, nil), http.StatusNotFound, nil)
}

func TestChatStream(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/chat/stream", f.token, map[string]string{"content": "Can my landlord keep the deposit?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: start\n")
	assert.Contains(t, body, "event: delta\ndata: {\"text\":\"You may \"}\n\n")
	assert.Contains(t, body, "event: done\n")
	assert.Less(t, strings.Index(body, "event: start"), strings.Index(body, "event: done"))

	var start chat.StartData
	line := strings.SplitN(strings.SplitN(body, "data: ", 2)[1], "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(line), &start))
	assert.True(t, start.Created)

	var msgs []types.Message
	f.decode(f.do(http.MethodGet, "/api/conversations/"+start.ConversationID+"/messages", f.token, nil), http.StatusOK, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "You may claim it back.", msgs[1].Content)
	assert.Equal(t, types.MessageComplete, msgs[1].Status)

	// Validation errors come back as JSON before the stream opens.
	f.decode(f.do(http.MethodPost, "/api/chat/stream", f.token, map[string]string{"content": "  "}), http.StatusBadRequest, nil)
	f.decode(f.do(http.MethodPost, "/api/chat/stop", f.token, map[string]string{"conversation_id": start.ConversationID}), http.StatusNotFound, nil)
	f.decode(f.do(http.MethodPost, "/api/chat/stop", f.token, map[string]string{}), http.StatusBadRequest, nil)
}

func (f *fixture) upload(name, content string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(f.t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(f.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestFileEndpoints(t *testing.T) {
	f := newFixture(t)

	var obj types.FileObject
	f.decode(f.upload("租赁合同.txt", "The lease ends in May."), http.StatusCreated, &obj)
	assert.Equal(t, "租赁合同.txt", obj.OriginalName)
	assert.EqualValues(t, len("The lease ends in May."), obj.Size)

	var list []types.FileObject
	f.decode(f.do(http.MethodGet, "/api/files", f.token, nil), http.StatusOK, &list)
	require.Len(t, list, 1)

	rec := f.do(http.MethodGet, "/api/files/"+obj.ID, f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The lease ends in May.", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=utf-8''")

	f.decode(f.upload("big.txt", strings.Repeat("a", 5000)), http.StatusRequestEntityTooLarge, nil)
	f.decode(f.upload("virus.exe", "MZ"), http.StatusBadRequest, nil)
	f.decode(f.do(http.MethodPost, "/api/files", f.token, map[string]string{"not": "multipart"}), http.StatusBadRequest, nil)

	f.decode(f.do(http.MethodDelete, "/api/files/"+obj.ID, f.token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/files/"+obj.ID, f.token, nil), http.StatusNotFound, nil)
}

func TestKnowledgeEndpoints(t *testing.T) {
	f := newFixture(t)

	var obj types.FileObject
	f.decode(f.upload("notice.md", "# Notice\n\nA tenant must give thirty days notice before leaving."), http.StatusCreated, &obj)

	var kb types.KnowledgeBase
	f.decode(f.do(http.MethodPost, "/api/kb", f.token, map[string]string{"name": "Tenancy"}), http.StatusCreated, &kb)

	var doc types.KnowledgeDocument
	f.decode(f.do(http.MethodPost, "/api/kb/"+kb.ID+"/documents", f.token, map[string]string{"file_id": obj.ID}), http.StatusCreated, &doc)
	assert.Equal(t, types.DocumentIndexed, doc.Status)

	var docs []types.KnowledgeDocument
	f.decode(f.do(http.MethodGet, "/api/kb/"+kb.ID+"/documents", f.token, nil), http.StatusOK, &docs)
	require.Len(t, docs, 1)

	var results []knowledge.Result
	f.decode(f.do(http.MethodPost, "/api/kb/"+kb.ID+"/search", f.token, map[string]any{"query": "tenant notice", "top_k": 3}), http.StatusOK, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "notice.md", results[0].DocumentTitle)

	var renamed types.KnowledgeBase
	f.decode(f.do(http.MethodPatch, "/api/kb/"+kb.ID, f.token, map[string]string{"description": "leases"}), http.StatusOK, &renamed)
	assert.Equal(t, "Tenancy", renamed.Name)
	assert.Equal(t, "leases", renamed.Description)

	f.decode(f.do(http.MethodDelete, "/api/kb/"+kb.ID+"/documents/"+doc.ID, f.token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodDelete, "/api/kb/"+kb.ID, f.token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/kb/"+kb.ID, f.token, nil), http.StatusNotFound, nil)
}

func TestShareEndpoints(t *testing.T) {
	f := newFixture(t)

	var conv types.Conversation
	f.decode(f.do(http.MethodPost, "/api/conversations", f.token, map[string]string{"title": "Shared"}), http.StatusCreated, &conv)

	var link types.ShareLink
	f.decode(f.do(http.MethodPost, "/api/shares", f.token, map[string]any{"conversation_id": conv.ID, "expires_in_days": 7}), http.StatusCreated, &link)
	require.NotNil(t, link.ExpiresAt)
	f.decode(f.do(http.MethodPost, "/api/shares", f.token, map[string]any{"conversation_id": conv.ID, "expires_in_days": 90}), http.StatusBadRequest, nil)
	for _, days := range []int{-1, 213504, math.MaxInt64 / 2} {
		f.decode(f.do(http.MethodPost, "/api/shares", f.token, map[string]any{"conversation_id": conv.ID, "expires_in_days": days}), http.StatusBadRequest, nil)
	}

	var view share.View
	f.decode(f.do(http.MethodGet, "/api/public/shares/"+link.Token, "", nil), http.StatusOK, &view)
	assert.Equal(t, "Shared", view.Title)

	var links []types.ShareLink
	f.decode(f.do(http.MethodGet, "/api/shares?conversation_id="+conv.ID, f.token, nil), http.StatusOK, &links)
	require.Len(t, links, 1)
	assert.EqualValues(t, 1, links[0].ViewCount)

	var forever types.ShareLink
	f.decode(f.do(http.MethodPost, "/api/shares", f.token, map[string]any{"conversation_id": conv.ID}), http.StatusCreated, &forever)
	assert.Nil(t, forever.ExpiresAt)

	f.decode(f.do(http.MethodDelete, "/api/shares/"+link.Token, f.token, nil), http.StatusOK, nil)
	f.decode(f.do(http.MethodGet, "/api/public/shares/"+link.Token, "", nil), http.StatusNotFound, nil)
}

func TestExportEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/export/docx", f.token, map[string]string{"markdown": "# Opinion\n\n**Yes.**", "filename": "opinion.docx"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.FormatDocx.ContentType(), rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=opinion.docx`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK", rec.Body.String()[:2])

	f.decode(f.do(http.MethodPost, "/api/export/odt", f.token, map[string]string{"markdown": "x"}), http.StatusBadRequest, nil)
	f.decode(f.do(http.MethodPost, "/api/export/docx", f.token, map[string]string{"markdown": " "}), http.StatusBadRequest, nil)
	env := f.decode(f.do(http.MethodPost, "/api/export/pdf", f.token, map[string]string{"markdown": "# x"}), http.StatusServiceUnavailable, nil)
	assert.Equal(t, "service temporarily unavailable", env.Message)

	var conv types.Conversation
	f.decode(f.do(http.MethodPost, "/api/conversations", f.token, map[string]string{"title": "Notice period"}), http.StatusCreated, &conv)
	rec = f.do(http.MethodGet, "/api/conversations/"+conv.ID+"/export?format=md", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# Notice period\n"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Notice period.md")
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/auth/me", f.token, nil)

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `juris_http_requests_total{method="GET",route="/api/auth/me",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "juris_chat_active_streams 0")

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverer(t *testing.T) {
	h := withRequestID(recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal server error","data":null}`, rec.Body.String())
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", types.ErrNotFound):     http.StatusNotFound,
		fmt.Errorf("x: %w", types.ErrInvalid):      http.StatusBadRequest,
		fmt.Errorf("x: %w", storage.ErrTooLarge):   http.StatusRequestEntityTooLarge,
		fmt.Errorf("x: %w", types.ErrUnauthorized): http.StatusUnauthorized,
		fmt.Errorf("x: %w", types.ErrForbidden):    http.StatusForbidden,
		fmt.Errorf("x: %w", types.ErrConflict):     http.StatusConflict,
		fmt.Errorf("x: %w", types.ErrUnavailable):  http.StatusServiceUnavailable,
		errors.New("disk on fire"):                  http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusOf(err), err.Error())
	}
}
