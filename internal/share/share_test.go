package share

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"juris/internal/store"
	"juris/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	store *store.Store
	user  *types.User
	conv  *types.Conversation
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u, err := st.CreateUser(ctx, &types.User{Username: "dave", PasswordHash: "x"})
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, &types.Conversation{UserID: u.ID, Title: "Deposit dispute", Persona: "consultation"})
	require.NoError(t, err)

	for _, m := range []*types.Message{
		{Role: types.RoleUserMessage, Content: "Can my landlord keep the deposit?"},
		{Role: types.RoleAssistantMessage, Content: "Only for documented damage.", Status: types.MessageComplete},
		{Role: types.RoleUserMessage, Content: "What about cleaning?"},
		{Role: types.RoleAssistantMessage, Content: "Usually not, unless", Status: types.MessageStopped},
		{Role: types.RoleUserMessage, Content: "And repairs?"},
		{Role: types.RoleAssistantMessage, Content: "", Status: types.MessageFailed},
	} {
		m.ConversationID = conv.ID
		_, err := st.AppendMessage(ctx, m)
		require.NoError(t, err)
	}

	f := &fixture{svc: NewService(st, 0), store: st, user: u, conv: conv, clock: time.Now()}
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewToken()
		require.Len(t, tok, 22)
		_, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestCreateAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, link.ExpiresAt)
	assert.Len(t, link.Token, 22)

	view, err := f.svc.Resolve(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "Deposit dispute", view.Title)
	assert.Equal(t, "consultation", view.Persona)
	// The failed answer is hidden; the question before it stays.
	require.Len(t, view.Messages, 5)
	assert.Equal(t, "Usually not, unless", view.Messages[3].Content)
	assert.Equal(t, types.MessageStopped, view.Messages[3].Status)
	assert.Equal(t, "And repairs?", view.Messages[4].Content)

	_, err = f.svc.Resolve(ctx, link.Token)
	require.NoError(t, err)
	links, err := f.svc.ListLinks(ctx, f.user.ID, f.conv.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.EqualValues(t, 2, links[0].ViewCount)
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)

	_, err = f.svc.Resolve(ctx, link.Token)
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreateLinkValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, 31*24*time.Hour)
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, -time.Second)
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, DefaultMaxTTL)
	assert.NoError(t, err)

	_, err = f.svc.CreateLink(ctx, "someone-else", f.conv.ID, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.CreateLink(ctx, f.user.ID, "missing", 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RevokeLink(ctx, "someone-else", link.Token), types.ErrNotFound)
	require.NoError(t, f.svc.RevokeLink(ctx, f.user.ID, link.Token))

	_, err = f.svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.Resolve(ctx, "no-such-token")
	assert.ErrorIs(t, err, types.ErrNotFound)

	links, err := f.svc.ListLinks(ctx, f.user.ID, f.conv.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].Revoked)

	_, err = f.svc.ListLinks(ctx, "someone-else", f.conv.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeletedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLink(ctx, f.user.ID, f.conv.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteConversation(ctx, f.user.ID, f.conv.ID))

	_, err = f.svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
