package knowledge

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"juris/internal/storage"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine embeds text as counts of a few marker words, which makes
// cosine similarity predictable.
type fakeEngine struct {
	mu      sync.Mutex
	batches int
	fail    bool
}

var markers = []string{"contract", "lease", "patent", "divorce"}

func (f *fakeEngine) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, len(markers))
	for i, m := range markers {
		v[i] = float32(strings.Count(text, m))
	}
	return v
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("engine down")
	}
	return f.vector(text), nil
}

func (f *fakeEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("engine down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return len(markers) }
func (f *fakeEngine) Name() string    { return "fake" }

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText("notes.MD", []byte("\xef\xbb\xbf# Title\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", text)

	text, err = ExtractText("page.html", []byte(`<html><head><title>x</title><style>p{}</style></head>
<body><h1>Labor  Law</h1><p>Article <b>39</b> applies.</p><script>alert(1)</script><p>Second</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Labor Law\n\nArticle 39 applies.\n\nSecond", text)

	text, err = ExtractText("brief.docx", buildDocx(t, "First paragraph.", "Second &amp; last."))
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\n\nSecond & last.", text)

	_, err = ExtractText("scan.pdf", []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, types.ErrInvalid)

	_, err = ExtractText("bad.docx", []byte("not a zip"))
	assert.ErrorIs(t, err, types.ErrInvalid)

	_, err = ExtractText("bad.txt", []byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestChunkKeepsParagraphs(t *testing.T) {
	text := "alpha one\n\nbeta two\n\n\n  \ngamma three"
	assert.Equal(t, []string{"alpha one\n\nbeta two\n\ngamma three"}, Chunk(text, 800, 100))
	assert.Empty(t, Chunk("  \n\n ", 800, 100))
}

func TestChunkSizesAndOverlap(t *testing.T) {
	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, strings.Repeat("word ", 30)+"end.")
	}
	chunks := Chunk(strings.Join(paras, "\n\n"), 800, 100)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 800, "chunk %d", i)
	}
	// Each chunk starts with the tail of the previous one.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		head := strings.SplitN(chunks[i], "\n\n", 2)[0]
		assert.True(t, strings.HasSuffix(prev, head), "chunk %d does not overlap", i)
	}
}

func TestChunkSplitsLongParagraphs(t *testing.T) {
	long := strings.Repeat("合同当事人应当按照约定全面履行自己的义务。", 100)
	chunks := Chunk(long, 800, 100)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 800)
	}
	// Cuts land on sentence ends.
	assert.True(t, strings.HasSuffix(chunks[0], "。"))
}

func TestChunkTinyTargets(t *testing.T) {
	text := "abc def\n\n" + strings.Repeat("x", 40)
	for _, target := range []int{1, 2, 3, MinChunkRunes - 1} {
		chunks := Chunk(text, target, 0)
		require.NotEmpty(t, chunks, "target %d", target)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), MinChunkRunes, "target %d", target)
		}
	}
	assert.Equal(t, []string{"abc def"}, Chunk("abc def", 2, 0))

	pieces := splitLong([]rune("abc"), 0)
	assert.Len(t, pieces, 3)
}

func TestTokenize(t *testing.T) {
	got := tokenize("Lease termination: 劳动合同 & Article 39, a")
	want := []string{"lease", "termination", "劳动", "动合", "合同", "article", "39"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokenize mismatch (-want +got):\n%s", diff)
	}
}

type fixture struct {
	svc   *Service
	files *storage.Service
	user  *types.User
}

func newFixture(t *testing.T, engine *fakeEngine) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	u, err := st.CreateUser(context.Background(), &types.User{Username: "carol", PasswordHash: "x"})
	require.NoError(t, err)

	bucket, err := storage.NewLocalBucket(t.TempDir())
	require.NoError(t, err)
	files := storage.NewService(st, bucket, 1<<20, []string{".txt", ".md", ".html", ".docx", ".pdf"})

	opts := Options{ChunkRunes: 200, OverlapRunes: 20}
	svc := NewService(st, files, nil, opts)
	if engine != nil {
		svc = NewService(st, files, engine, opts)
	}
	return &fixture{svc: svc, files: files, user: u}
}

func (f *fixture) upload(t *testing.T, name, body string) *types.FileObject {
	t.Helper()
	obj, err := f.files.Upload(context.Background(), f.user.ID, name, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return obj
}

func TestBaseLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	kb, err := f.svc.CreateBase(ctx, f.user.ID, "  Labor law ", "statutes")
	require.NoError(t, err)
	assert.Equal(t, "Labor law", kb.Name)

	_, err = f.svc.CreateBase(ctx, f.user.ID, "Labor law", "")
	assert.ErrorIs(t, err, types.ErrConflict)
	_, err = f.svc.CreateBase(ctx, f.user.ID, " ", "")
	assert.ErrorIs(t, err, types.ErrInvalid)

	updated, err := f.svc.UpdateBase(ctx, f.user.ID, kb.ID, "Employment", "updated")
	require.NoError(t, err)
	assert.Equal(t, "Employment", updated.Name)
	assert.Equal(t, "updated", updated.Description)

	_, err = f.svc.GetBase(ctx, "other", kb.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	list, err := f.svc.ListBases(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteBase(ctx, f.user.ID, kb.ID))
	assert.ErrorIs(t, f.svc.DeleteBase(ctx, f.user.ID, kb.ID), types.ErrNotFound)
}

func TestAddDocumentKeywordSearch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	kb, err := f.svc.CreateBase(ctx, f.user.ID, "Civil", "")
	require.NoError(t, err)

	lease := f.upload(t, "lease.txt", "A lease may be terminated early when the landlord fails to repair.\n\nDeposits must be returned within 30 days.")
	patent := f.upload(t, "patent.md", "# Patents\n\nA patent protects an invention for twenty years.")

	doc, err := f.svc.AddDocument(ctx, f.user.ID, kb.ID, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, doc.Status)
	assert.Equal(t, "lease.txt", doc.Title)
	assert.Equal(t, 1, doc.ChunkCount)
	_, err = f.svc.AddDocument(ctx, f.user.ID, kb.ID, patent.ID)
	require.NoError(t, err)

	results, err := f.svc.Search(ctx, f.user.ID, []string{kb.ID, kb.ID}, "when must a deposit be returned", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "lease.txt", results[0].DocumentTitle)
	assert.Equal(t, kb.ID, results[0].KBID)

	refs, err := f.svc.Retrieve(ctx, f.user.ID, []string{kb.ID}, "patent invention", 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "patent.md", refs[0].Title)

	results, err = f.svc.Search(ctx, f.user.ID, []string{kb.ID}, "zzz", 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.svc.Search(ctx, "intruder", []string{kb.ID}, "lease", 3)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.Search(ctx, f.user.ID, nil, "lease", 3)
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.svc.Search(ctx, f.user.ID, []string{kb.ID}, "  ", 3)
	assert.ErrorIs(t, err, types.ErrInvalid)

	docs, err := f.svc.ListDocuments(ctx, f.user.ID, kb.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, f.svc.DeleteDocument(ctx, f.user.ID, kb.ID, doc.ID))
	results, err = f.svc.Search(ctx, f.user.ID, []string{kb.ID}, "deposit returned", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddDocumentUnsupportedMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	kb, err := f.svc.CreateBase(ctx, f.user.ID, "Scans", "")
	require.NoError(t, err)

	pdf := f.upload(t, "scan.pdf", "%PDF-1.4 binary")
	doc, err := f.svc.AddDocument(ctx, f.user.ID, kb.ID, pdf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, doc.Status)
	assert.Contains(t, doc.Error, "unsupported")

	docs, err := f.svc.ListDocuments(ctx, f.user.ID, kb.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, types.DocumentFailed, docs[0].Status)

	_, err = f.svc.AddDocument(ctx, f.user.ID, kb.ID, "missing-file")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.AddDocument(ctx, "intruder", kb.ID, pdf.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestVectorSearch(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, engine)
	ctx := context.Background()
	kb, err := f.svc.CreateBase(ctx, f.user.ID, "Mixed", "")
	require.NoError(t, err)

	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, "This paragraph is about a lease between landlord and tenant.")
	}
	paras = append(paras, "Only this one mentions a patent and a patent licence.")
	file := f.upload(t, "mixed.txt", strings.Join(paras, "\n\n"))

	doc, err := f.svc.AddDocument(ctx, f.user.ID, kb.ID, file.ID)
	require.NoError(t, err)
	require.Equal(t, types.DocumentIndexed, doc.Status)
	assert.Greater(t, doc.ChunkCount, 1)

	results, err := f.svc.Search(ctx, f.user.ID, []string{kb.ID}, "patent", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Excerpt, "patent")
	assert.InDelta(t, 1.0, results[0].Score, 0.5)

	// A failing engine degrades to keyword scoring.
	engine.fail = true
	results, err = f.svc.Search(ctx, f.user.ID, []string{kb.ID}, "patent licence", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Excerpt, "licence")
}

func TestEmbedAllBatches(t *testing.T) {
	engine := &fakeEngine{}
	svc := &Service{engine: engine}
	texts := make([]string, embedBatchSize*3+1)
	for i := range texts {
		texts[i] = "contract"
	}
	vecs, err := svc.embedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for _, v := range vecs {
		assert.Equal(t, []float32{1, 0, 0, 0}, v)
	}
	assert.Equal(t, 4, engine.batches)

	engine.fail = true
	_, err = svc.embedAll(context.Background(), texts)
	assert.Error(t, err)

	vecs, err = (&Service{}).embedAll(context.Background(), texts)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
