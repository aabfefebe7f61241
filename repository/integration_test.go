package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testPool connects to LEXGRAPH_TEST_DATABASE_URL and applies the schema in
// a throwaway Postgres schema that is dropped when the test ends
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("LEXGRAPH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEXGRAPH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	schema := "lexgraph_test_" + uuid.NewString()[:8]
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, CreateSchema(ctx, pool, 2, zaptest.NewLogger(t)))
	return pool
}

func strp(s string) *string { return &s }

func TestContentTreeIntegration(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	docs := NewDocumentRepository(pool, WithQueryTimeout(10*time.Second))
	content := NewContentRepository(pool)

	doc := &models.Document{Name: "codice_civile.json", LegalName: strp("Codice Civile")}
	require.NoError(t, docs.Upsert(ctx, doc))

	libro := models.ContentNode{ID: uuid.New(), Kind: models.KindBranch, Title: "LIBRO QUARTO"}
	art1 := models.ContentNode{ID: uuid.New(), ParentID: &libro.ID, Kind: models.KindContent, Title: "Art. 1",
		Body: strp("Le obbligazioni derivano da contratto."), Embedding: []float32{1, 0}}
	// a node titled like an article that still has a child is not a leaf
	art2 := models.ContentNode{ID: uuid.New(), ParentID: &libro.ID, Kind: models.KindContent, Title: "Art. 2", Position: 1}
	comma := models.ContentNode{ID: uuid.New(), ParentID: &art2.ID, Kind: models.KindContent, Title: "comma 1",
		Body: strp("Il risarcimento del danno."), Embedding: []float32{0, 1}}
	require.NoError(t, content.InsertTree(ctx, doc.ID, []models.ContentNode{libro, art1, art2, comma}))

	loaded, err := content.HasContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, loaded)

	res, err := content.FindArticle(ctx, "Art. 1", "Codice Civile")
	require.NoError(t, err)
	assert.Equal(t, art1.ID, res.ID)
	assert.Equal(t, "codice_civile.json", res.Source)

	_, err = content.FindArticle(ctx, "Art. 2", "Codice Civile")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = content.FindArticle(ctx, "Art. 1", "Codice Penale")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	children, err := content.Children(ctx, libro.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, art1.ID, children[0].ID)
	assert.Equal(t, []float32{1, 0}, children[0].Embedding)

	hits, err := content.LeafFulltextSearch(ctx, "contratto risarcimento", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestInsertTreeRollsBack(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	docs := NewDocumentRepository(pool)
	content := NewContentRepository(pool)

	doc := &models.Document{Name: "codice_penale.json", LegalName: strp("Codice Penale")}
	require.NoError(t, docs.Upsert(ctx, doc))

	id := uuid.New()
	dup := []models.ContentNode{
		{ID: id, Kind: models.KindContent, Title: "Art. 1"},
		{ID: id, Kind: models.KindContent, Title: "Art. 2"},
	}
	require.Error(t, content.InsertTree(ctx, doc.ID, dup))

	loaded, err := content.HasContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestChunkChainIntegration(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	docs := NewDocumentRepository(pool)
	chunks := NewChunkRepository(pool)

	doc := &models.Document{Name: "sentenza_1.json"}
	require.NoError(t, docs.Upsert(ctx, doc))
	other := &models.Document{Name: "sentenza_2.json"}
	require.NoError(t, docs.Upsert(ctx, other))

	chain := []models.Chunk{
		{Text: "Il contratto era valido.", Embedding: []float32{1, 0}},
		{Text: "Il giudice ha disposto il risarcimento.", Embedding: []float32{0.7, 0.7}},
		{Text: "Le spese seguono la soccombenza.", Embedding: []float32{0, 1}},
	}
	ents := [][]models.Entity{nil, {{Text: "risarcimento", Label: "RIMEDIO"}}, nil}
	require.NoError(t, chunks.InsertChain(ctx, doc.ID, chain, ents))
	otherChain := []models.Chunk{{Text: "Altro contratto.", Embedding: []float32{1, 0}}}
	require.NoError(t, chunks.InsertChain(ctx, other.ID, otherChain, nil))

	has, err := chunks.HasChain(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, has)

	ids := []uuid.UUID{chain[0].ID, chain[1].ID, chain[2].ID, otherChain[0].ID}
	reach, err := chunks.ReachableFrom(ctx, "sentenza_1.json", ids)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]bool{chain[0].ID: true, chain[1].ID: true, chain[2].ID: true}, reach)

	enriched, err := chunks.Enrich(ctx, []uuid.UUID{chain[1].ID})
	require.NoError(t, err)
	mid := enriched[chain[1].ID]
	require.NotNil(t, mid)
	assert.Equal(t, []string{"Il contratto era valido."}, mid.Prev)
	assert.Equal(t, []string{"Le spese seguono la soccombenza."}, mid.Next)
	assert.Equal(t, "sentenza_1.json", mid.Source)
	assert.Equal(t, []models.Entity{{Text: "risarcimento", Label: "RIMEDIO"}}, mid.Entities)

	byLabel, err := chunks.ByEntityLabel(ctx, "rimedio", 5)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{chain[1].ID}, byLabel)

	// either term is enough to be a candidate
	hits, err := chunks.FulltextSearch(ctx, "contratto risarcimento", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	near, err := chunks.VectorSearch(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, chain[2].ID, near[0].ID)
}

func TestRelatedEdgeIdempotence(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	docs := NewDocumentRepository(pool)
	content := NewContentRepository(pool)
	relations := NewRelationRepository(pool)

	doc := &models.Document{Name: "codice_civile.json", LegalName: strp("Codice Civile")}
	require.NoError(t, docs.Upsert(ctx, doc))
	a := models.ContentNode{ID: uuid.New(), Kind: models.KindContent, Title: "Art. 1218", Body: strp("Il debitore risponde.")}
	b := models.ContentNode{ID: uuid.New(), Kind: models.KindContent, Title: "Art. 1173", Body: strp("Fonti delle obbligazioni."), Position: 1}
	require.NoError(t, content.InsertTree(ctx, doc.ID, []models.ContentNode{a, b}))

	edge := models.RelatedEdge{SourceID: a.ID, TargetID: b.ID, TargetKind: models.TargetContent}
	for i, want := range []bool{true, false} {
		created, err := relations.Create(ctx, edge)
		require.NoError(t, err)
		assert.Equal(t, want, created, fmt.Sprintf("write %d", i+1))
	}

	n, err := relations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	texts, err := relations.RelatedContentTexts(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Art. 1173 Fonti delle obbligazioni."}, texts[a.ID])
}
