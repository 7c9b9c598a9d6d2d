package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"juris/internal/agent"
	"juris/internal/llm"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a minimal config rooted in a temp dir.
func writeConfig(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "juris.yaml")
	cfg := `database:
  path: ` + filepath.Join(dir, "juris.db") + `
auth:
  jwt_secret: cli-test-secret-0123456789
  bcrypt_cost: 4
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return dir, path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndUserAdd(t *testing.T) {
	dir, cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema up to date")

	out, err = run(t, "--config", cfg, "user", "add", "--username", "root", "--password", "b00tstrap-pass", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin user root")

	st, err := store.Open(filepath.Join(dir, "juris.db"))
	require.NoError(t, err)
	defer st.Close()
	u, err := st.GetUserByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, u.Role)

	_, err = run(t, "--config", cfg, "user", "add", "--username", "root", "--password", "b00tstrap-pass")
	assert.ErrorIs(t, err, types.ErrConflict)
	_, err = run(t, "--config", cfg, "user", "add", "--username", "weak", "--password", "password")
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = run(t, "--config", cfg, "user", "add", "--username", "someone", "--password", "b00tstrap-pass", "--role", "owner")
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestUserListAndStatus(t *testing.T) {
	_, cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "user", "add", "--username", "root", "--password", "b00tstrap-pass", "--role", "admin")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "user", "add", "--username", "clerk", "--password", "cl3rk-pass-word")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "root")
	assert.Contains(t, out, "clerk")
	assert.Contains(t, out, "2 users")

	out, err = run(t, "--config", cfg, "user", "disable", "clerk")
	require.NoError(t, err)
	assert.Contains(t, out, "User clerk is now disabled")
	out, err = run(t, "--config", cfg, "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	out, err = run(t, "--config", cfg, "user", "enable", "clerk")
	require.NoError(t, err)
	assert.Contains(t, out, "User clerk is now active")

	_, err = run(t, "--config", cfg, "user", "disable", "nobody")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = run(t, "--config", cfg, "user", "disable")
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	dir, cfg := writeConfig(t)
	in := filepath.Join(dir, "opinion.md")
	require.NoError(t, os.WriteFile(in, []byte("# Opinion\n\nThe clause is **void**.\n"), 0644))

	out, err := run(t, "--config", cfg, "export", "--format", "html", in)
	require.NoError(t, err)
	assert.Contains(t, out, "opinion.html")
	html, err := os.ReadFile(filepath.Join(dir, "opinion.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<strong>void</strong>")

	target := filepath.Join(dir, "custom.docx")
	_, err = run(t, "--config", cfg, "export", "-f", "docx", in, "-o", target)
	require.NoError(t, err)
	docx, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(docx[:2]))

	_, err = run(t, "--config", cfg, "export", "--format", "md", in)
	assert.ErrorContains(t, err, "overwrite")
	_, err = run(t, "--config", cfg, "export", "--format", "rtf", in)
	assert.ErrorIs(t, err, types.ErrInvalid)
}

// scriptClient streams fixed deltas, then an optional error.
type scriptClient struct {
	deltas []string
	err    error
}

func (c scriptClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: strings.Join(c.deltas, "")}, nil
}

func (c scriptClient) Stream(context.Context, llm.Request) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, len(c.deltas))
	errs := make(chan error, 1)
	for _, d := range c.deltas {
		chunks <- llm.Chunk{Delta: d}
	}
	close(chunks)
	if c.err != nil {
		errs <- c.err
	}
	close(errs)
	return chunks, errs
}

func (scriptClient) Name() string { return "script" }

func TestAsk(t *testing.T) {
	ctx := context.Background()
	runner := agent.NewRunner(scriptClient{deltas: []string{"## Answer\n\n", "It depends."}}, agent.NewRegistry(), 0)

	var live bytes.Buffer
	answer, err := ask(ctx, runner, agent.PersonaRisk, "Is a verbal lease enforceable?", &live)
	require.NoError(t, err)
	assert.Equal(t, "## Answer\n\nIt depends.", answer)
	assert.Equal(t, answer, live.String())

	_, err = ask(ctx, runner, "astrologer", "Will I win?", &live)
	assert.ErrorIs(t, err, types.ErrNotFound)

	failing := agent.NewRunner(scriptClient{deltas: []string{"Part"}, err: errors.New("upstream 502")}, agent.NewRegistry(), 0)
	answer, err = ask(ctx, failing, agent.PersonaConsultation, "Anything?", &live)
	assert.ErrorContains(t, err, "upstream 502")
	assert.Equal(t, "Part", answer)
}

func TestRenderMarkdown(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderMarkdown(&out, "# Heading\n\nSome *text*."))
	assert.Contains(t, out.String(), "Heading")
	assert.Contains(t, out.String(), "text")
}
