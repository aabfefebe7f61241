package service

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
)

// fakeChunks is an in-memory chunk store. chain maps chunk ids to the
// document whose chain holds them.
type fakeChunks struct {
	vector   []models.Scored
	fulltext []models.Scored
	byLabel  map[string][]uuid.UUID
	chain    map[uuid.UUID]string
	texts    map[uuid.UUID]string
	err      error

	lastK    int
	lastText string
}

func (f *fakeChunks) VectorSearch(_ context.Context, _ []float32, k int) ([]models.Scored, error) {
	f.lastK = k
	return take(f.vector, k), f.err
}

func (f *fakeChunks) FulltextSearch(_ context.Context, text string, k int) ([]models.Scored, error) {
	f.lastK = k
	f.lastText = text
	return take(f.fulltext, k), f.err
}

func (f *fakeChunks) ByEntityLabel(_ context.Context, label string, k int) ([]uuid.UUID, error) {
	f.lastK = k
	for l, ids := range f.byLabel {
		if strings.EqualFold(l, label) {
			return take(ids, k), f.err
		}
	}
	return nil, f.err
}

func (f *fakeChunks) ReachableFrom(_ context.Context, docName string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if f.chain[id] == docName {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeChunks) Enrich(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Result, error) {
	out := map[uuid.UUID]*models.Result{}
	for _, id := range ids {
		text, ok := f.texts[id]
		if !ok {
			continue
		}
		out[id] = &models.Result{ID: id, Text: text, Source: f.chain[id]}
	}
	return out, nil
}

func take[T any](s []T, k int) []T {
	s = slices.Clone(s)
	if k >= 0 && len(s) > k {
		s = s[:k]
	}
	return s
}

type fakeDocument struct {
	id        uuid.UUID
	name      string
	legalName string
}

// fakeContent is an in-memory content tree
type fakeContent struct {
	docs  []fakeDocument
	nodes []models.ContentNode
	err   error
}

func (f *fakeContent) doc(id uuid.UUID) fakeDocument {
	for _, d := range f.docs {
		if d.id == id {
			return d
		}
	}
	return fakeDocument{}
}

func (f *fakeContent) isLeaf(id uuid.UUID) bool {
	for _, n := range f.nodes {
		if n.ParentID != nil && *n.ParentID == id {
			return false
		}
	}
	return true
}

func (f *fakeContent) result(n models.ContentNode) *models.Result {
	d := f.doc(n.DocumentID)
	res := &models.Result{ID: n.ID, Title: n.Title, Source: d.name, LawName: d.legalName}
	if n.Heading != nil {
		res.Heading = *n.Heading
	}
	if n.Body != nil {
		res.Text = *n.Body
	}
	return res
}

func (f *fakeContent) FindArticle(_ context.Context, title, lawName string) (*models.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, n := range f.nodes {
		if n.Title == title && f.isLeaf(n.ID) && (lawName == "" || f.doc(n.DocumentID).legalName == lawName) {
			return f.result(n), nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (f *fakeContent) LeafByID(_ context.Context, id uuid.UUID) (*models.Result, error) {
	for _, n := range f.nodes {
		if n.ID == id {
			return f.result(n), nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (f *fakeContent) FindLeafUnderDocument(_ context.Context, documentID uuid.UUID, titles []string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	for _, t := range titles {
		for _, n := range f.nodes {
			if n.DocumentID == documentID && n.Title == t && f.isLeaf(n.ID) {
				return n.ID, nil
			}
		}
	}
	return uuid.Nil, repository.ErrRecordNotFound
}

// seedsWalk mirrors the TopLevelBranches query: every "parti" node and every
// node titled "TITOLO..."
func seedsWalk(n models.ContentNode) bool {
	return n.Kind == models.KindBranch || strings.HasPrefix(n.Title, "TITOLO")
}

func (f *fakeContent) TopLevelBranches(_ context.Context, lawName string) ([]models.ContentNode, error) {
	var out []models.ContentNode
	for _, n := range f.nodes {
		if seedsWalk(n) && (lawName == "" || f.doc(n.DocumentID).legalName == lawName) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeContent) Children(_ context.Context, parentID uuid.UUID) ([]models.ContentNode, error) {
	var out []models.ContentNode
	for _, n := range f.nodes {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeContent) LeafVectorSearch(_ context.Context, embedding []float32, k int) ([]models.Result, error) {
	var out []models.Result
	for _, n := range f.nodes {
		if n.HasBody() && len(n.Embedding) > 0 {
			res := f.result(n)
			res.Score = cosine(n.Embedding, embedding)
			out = append(out, *res)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Result) int { return cmp.Compare(b.Score, a.Score) })
	return take(out, k), nil
}

func (f *fakeContent) LeafFulltextSearch(_ context.Context, text string, k int) ([]models.Result, error) {
	var out []models.Result
	for _, n := range f.nodes {
		if !n.HasBody() {
			continue
		}
		hits := 0
		for _, w := range strings.Fields(text) {
			if strings.Contains(strings.ToLower(*n.Body), w) {
				hits++
			}
		}
		if hits > 0 {
			res := f.result(n)
			res.Score = float64(hits)
			out = append(out, *res)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Result) int { return cmp.Compare(b.Score, a.Score) })
	return take(out, k), nil
}

func (f *fakeContent) NodesWithBody(_ context.Context) ([]models.ContentNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ContentNode
	for _, n := range f.nodes {
		if n.HasBody() {
			out = append(out, n)
		}
	}
	return out, nil
}

// fakeDocuments scores 1.0 for an exact legal name and 0 otherwise, unless
// score is set
type fakeDocuments struct {
	content *fakeContent
	score   *float64
	err     error
	names   []string
}

func (f *fakeDocuments) BestByLegalName(_ context.Context, name string) (uuid.UUID, float64, error) {
	if f.err != nil {
		return uuid.Nil, 0, f.err
	}
	if len(f.content.docs) == 0 {
		return uuid.Nil, 0, repository.ErrRecordNotFound
	}
	best := f.content.docs[0]
	score := 0.0
	for _, d := range f.content.docs {
		if strings.EqualFold(d.legalName, name) {
			best, score = d, 1.0
			break
		}
	}
	if f.score != nil {
		score = *f.score
	}
	return best.id, score, nil
}

func (f *fakeDocuments) ListNames(_ context.Context) ([]string, error) {
	return f.names, f.err
}

// fakeRelations is an in-memory edge set keyed by ordered pair
type fakeRelations struct {
	mu    sync.Mutex
	edges map[[2]uuid.UUID]models.RelatedEdge
	texts map[uuid.UUID]string
	err   error
}

func newFakeRelations() *fakeRelations {
	return &fakeRelations{edges: map[[2]uuid.UUID]models.RelatedEdge{}, texts: map[uuid.UUID]string{}}
}

func (f *fakeRelations) Create(_ context.Context, edge models.RelatedEdge) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	key := [2]uuid.UUID{edge.SourceID, edge.TargetID}
	if _, ok := f.edges[key]; ok {
		return false, nil
	}
	f.edges[key] = edge
	return true, nil
}

func (f *fakeRelations) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.edges)), nil
}

func (f *fakeRelations) RelatedContentTexts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID][]string{}
	for _, id := range ids {
		for key, e := range f.edges {
			if key[0] == id && e.TargetKind == models.TargetContent {
				out[id] = append(out[id], f.texts[key[1]])
			}
		}
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}

// civilCode builds a small Codice Civile tree:
//
//	LIBRO QUARTO (parti)
//	  TITOLO I (contenuto)
//	    Art. 1173 [1,0]
//	    Art. 1218 [0,1]
//	  TITOLO II
//	    Art. 2043 [0.6,0.8]
//
// plus Art. 15 directly under the document and a penal code Art. 15.
func civilCode() (*fakeContent, map[string]uuid.UUID) {
	civil := fakeDocument{id: uuid.New(), name: "codice_civile.json", legalName: "Codice Civile"}
	penal := fakeDocument{id: uuid.New(), name: "codice_penale.json", legalName: "Codice Penale"}
	ids := map[string]uuid.UUID{}
	f := &fakeContent{docs: []fakeDocument{civil, penal}}

	add := func(key string, doc fakeDocument, parent string, kind models.NodeKind, title string, body *string, emb []float32) {
		id := uuid.New()
		ids[key] = id
		n := models.ContentNode{ID: id, DocumentID: doc.id, Kind: kind, Title: title, Body: body, Embedding: emb}
		if parent != "" {
			p := ids[parent]
			n.ParentID = &p
		}
		f.nodes = append(f.nodes, n)
	}

	add("libro", civil, "", models.KindBranch, "LIBRO QUARTO", nil, nil)
	add("titolo1", civil, "libro", models.KindContent, "TITOLO I", nil, []float32{1, 0.2})
	add("1173", civil, "titolo1", models.KindContent, "Art. 1173", ptr("Le obbligazioni derivano da contratto."), []float32{1, 0})
	add("1218", civil, "titolo1", models.KindContent, "Art. 1218", ptr("Il debitore che non esegue risponde del danno, art. 1173 c.c."), []float32{0, 1})
	add("titolo2", civil, "libro", models.KindContent, "TITOLO II", nil, []float32{0.5, 1})
	add("2043", civil, "titolo2", models.KindContent, "Art. 2043", ptr("Qualunque fatto doloso obbliga al risarcimento, artt. 1218 e 1173 c.c."), []float32{0.6, 0.8})
	add("15", civil, "", models.KindContent, "Art. 15", ptr("Articolo quindici civile."), []float32{0.1, 0.1})
	add("p15", penal, "", models.KindContent, "Art. 15", ptr("Articolo quindici penale."), nil)
	return f, ids
}
