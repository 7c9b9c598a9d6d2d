package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"juris/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory store with a clock that advances one
// second per call so ordering by timestamp is deterministic.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func seedUser(t *testing.T, s *Store, name string) *types.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), &types.User{Username: name, PasswordHash: "hash"})
	require.NoError(t, err)
	return u
}

func TestOpen_CreatesFileAndRecordsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "juris.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.DB()))
	assert.NoError(t, s.Ping(context.Background()))

	// Reopening is idempotent.
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s2.DB()))
}

func TestRunMigrations_AddsMissingColumns(t *testing.T) {
	s := newTestStore(t)
	db := s.DB()

	// Simulate a v1 database whose conversations table predates pinning.
	_, err := db.Exec("ALTER TABLE conversations RENAME TO conversations_new")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE conversations (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, title TEXT NOT NULL DEFAULT '',
		persona TEXT NOT NULL DEFAULT '', created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL, deleted_at DATETIME)`)
	require.NoError(t, err)
	assert.False(t, columnExists(db, "conversations", "pinned"))

	require.NoError(t, RunMigrations(db))
	assert.True(t, columnExists(db, "conversations", "pinned"))
	assert.True(t, tableExists(db, "conversations_new"))
	assert.False(t, tableExists(db, "nope"))
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := seedUser(t, s, "alice")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, types.RoleUser, u.Role)
	assert.Equal(t, types.UserActive, u.Status)

	_, err := s.CreateUser(ctx, &types.User{Username: "alice", PasswordHash: "x"})
	assert.ErrorIs(t, err, types.ErrConflict)

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, s.UpdateUserProfile(ctx, u.ID, "Alice A.", "alice@example.com"))
	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "newhash"))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.DisplayName)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "newhash", got.PasswordHash)

	bob := seedUser(t, s, "bob")
	err = s.UpdateUserProfile(ctx, bob.ID, "Bob", "alice@example.com")
	assert.ErrorIs(t, err, types.ErrConflict)

	require.NoError(t, s.SetUserStatus(ctx, bob.ID, types.UserDisabled))
	got, err = s.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UserDisabled, got.Status)

	users, err := s.ListUsers(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.UpdateUserPassword(ctx, "missing", "h"), types.ErrNotFound)
}

func TestConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	first, err := s.CreateConversation(ctx, &types.Conversation{UserID: alice.ID, Title: "Lease dispute", Persona: "consultation"})
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, &types.Conversation{UserID: alice.ID, Title: "Employment 100% contract", Persona: "risk"})
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, alice.ID, types.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "most recently updated first")

	require.NoError(t, s.SetConversationPinned(ctx, alice.ID, first.ID, true))
	require.NoError(t, s.RenameConversation(ctx, alice.ID, second.ID, "Employment 100% contract (v2)"))
	list, err = s.ListConversations(ctx, alice.ID, types.ConversationFilter{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, list[0].ID, "pinned first")
	assert.True(t, list[0].Pinned)

	list, err = s.ListConversations(ctx, alice.ID, types.ConversationFilter{Keyword: "100%"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	// Ownership
	_, err = s.GetConversation(ctx, bob.ID, first.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.RenameConversation(ctx, bob.ID, first.ID, "x"), types.ErrNotFound)

	require.NoError(t, s.RenameConversation(ctx, alice.ID, first.ID, "Renamed"))
	require.NoError(t, s.SetConversationPersona(ctx, alice.ID, first.ID, "case"))
	got, err := s.GetConversation(ctx, alice.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "case", got.Persona)

	require.NoError(t, s.DeleteConversation(ctx, alice.ID, first.ID))
	_, err = s.GetConversation(ctx, "", first.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, alice.ID, first.ID), types.ErrNotFound)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "alice")
	conv, err := s.CreateConversation(ctx, &types.Conversation{UserID: u.ID})
	require.NoError(t, err)

	for i, content := range []string{"q1", "a1", "q2", "a2"} {
		role := types.RoleUserMessage
		if i%2 == 1 {
			role = types.RoleAssistantMessage
		}
		m, err := s.AppendMessage(ctx, &types.Message{ConversationID: conv.ID, Role: role, Content: content, FileIDs: []string{"f1"}})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, types.MessageComplete, m.Status)
	}

	all, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"f1"}, all[0].FileIDs)

	recent, err := s.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "q2", recent[0].Content)
	assert.Equal(t, "a2", recent[1].Content)

	n, err := s.DeleteMessagesAfter(ctx, conv.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	next, err := s.AppendMessage(ctx, &types.Message{ConversationID: conv.ID, Role: types.RoleAssistantMessage, Content: "a2'"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)

	_, err = s.AppendMessage(ctx, &types.Message{ConversationID: "missing", Role: types.RoleUserMessage})
	assert.Error(t, err, "foreign key")
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "alice")

	f, err := s.CreateFile(ctx, &types.FileObject{UserID: u.ID, OriginalName: "contract.pdf", Size: 10, SHA256: "abc", StorageKey: "k", Backend: "local"})
	require.NoError(t, err)

	got, err := s.GetFile(ctx, u.ID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", got.OriginalName)
	assert.Equal(t, "k", got.StorageKey)

	_, err = s.GetFile(ctx, "someone-else", f.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	files, err := s.ListFiles(ctx, u.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, s.DeleteFile(ctx, u.ID, f.ID))
	assert.ErrorIs(t, s.DeleteFile(ctx, u.ID, f.ID), types.ErrNotFound)
}

func TestKnowledge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "alice")

	kb, err := s.CreateKnowledgeBase(ctx, &types.KnowledgeBase{UserID: u.ID, Name: "Labor law"})
	require.NoError(t, err)
	_, err = s.CreateKnowledgeBase(ctx, &types.KnowledgeBase{UserID: u.ID, Name: "Labor law"})
	assert.ErrorIs(t, err, types.ErrConflict)

	doc, err := s.CreateDocument(ctx, &types.KnowledgeDocument{KBID: kb.ID, FileID: "f1", Title: "Act"})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentPending, doc.Status)

	got, err := s.GetKnowledgeBase(ctx, u.ID, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)

	chunks := []types.KnowledgeChunk{
		{KBID: kb.ID, Ordinal: 0, Content: "first", Embedding: []float32{0.5, -1.25, 3}},
		{KBID: kb.ID, Ordinal: 1, Content: "second"},
	}
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))
	require.NoError(t, s.UpdateDocumentStatus(ctx, doc.ID, types.DocumentIndexed, 2, ""))

	stored, err := s.ListChunks(ctx, kb.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, []float32{0.5, -1.25, 3}, stored[0].Embedding)
	assert.Nil(t, stored[1].Embedding)
	assert.Equal(t, doc.ID, stored[0].DocID)

	require.NoError(t, s.UpdateKnowledgeBase(ctx, u.ID, kb.ID, "Employment law", "statutes"))
	docs, err := s.ListDocuments(ctx, kb.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, types.DocumentIndexed, docs[0].Status)
	assert.Equal(t, 2, docs[0].ChunkCount)

	require.NoError(t, s.DeleteDocument(ctx, kb.ID, doc.ID))
	stored, err = s.ListChunks(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	got, err = s.GetKnowledgeBase(ctx, u.ID, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DocumentCount)
	assert.Equal(t, "Employment law", got.Name)

	require.NoError(t, s.DeleteKnowledgeBase(ctx, u.ID, kb.ID))
	_, err = s.GetKnowledgeBase(ctx, u.ID, kb.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestShares(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "alice")
	conv, err := s.CreateConversation(ctx, &types.Conversation{UserID: u.ID})
	require.NoError(t, err)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.CreateShare(ctx, &types.ShareLink{Token: "tok1", ConversationID: conv.ID, UserID: u.ID, ExpiresAt: &exp})
	require.NoError(t, err)
	_, err = s.CreateShare(ctx, &types.ShareLink{Token: "tok2", ConversationID: conv.ID, UserID: u.ID})
	require.NoError(t, err)
	_, err = s.CreateShare(ctx, &types.ShareLink{Token: "tok2", ConversationID: conv.ID, UserID: u.ID})
	assert.ErrorIs(t, err, types.ErrConflict)

	l, err := s.GetShare(ctx, "tok1")
	require.NoError(t, err)
	require.NotNil(t, l.ExpiresAt)
	assert.True(t, exp.Equal(*l.ExpiresAt))

	require.NoError(t, s.IncrementShareViews(ctx, "tok2"))
	require.NoError(t, s.IncrementShareViews(ctx, "tok2"))
	l, err = s.GetShare(ctx, "tok2")
	require.NoError(t, err)
	assert.Nil(t, l.ExpiresAt)
	assert.Equal(t, int64(2), l.ViewCount)

	assert.ErrorIs(t, s.RevokeShare(ctx, "other", "tok2"), types.ErrNotFound)
	require.NoError(t, s.RevokeShare(ctx, u.ID, "tok2"))
	l, err = s.GetShare(ctx, "tok2")
	require.NoError(t, err)
	assert.True(t, l.Revoked)

	links, err := s.ListSharesForConversation(ctx, u.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSession(ctx, &types.Session{JTI: "a", UserID: "u1", ExpiresAt: future}))
	require.NoError(t, s.SaveSession(ctx, &types.Session{JTI: "b", UserID: "u1", ExpiresAt: future}))
	require.NoError(t, s.SaveSession(ctx, &types.Session{JTI: "old", UserID: "u2", ExpiresAt: past}))

	sess, err := s.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.False(t, sess.Revoked)

	require.NoError(t, s.RevokeSession(ctx, "a"))
	sess, err = s.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.True(t, sess.Revoked)

	n, err := s.RevokeUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEmbeddingCodec(t *testing.T) {
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding([]byte{1, 2}))
	v := []float32{1, 0, -0.001}
	assert.Equal(t, v, decodeEmbedding(encodeEmbedding(v)))
}
