package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph-backend/models"
)

func cite(doc, art string) models.Citation {
	return models.Citation{DocumentName: doc, ArticleNumber: art}
}

func TestRuleExtractor(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []models.Citation
	}{
		{
			name: "abbreviated code",
			text: "Ai sensi dell'art. 2043 c.c. il danno deve essere risarcito.",
			want: []models.Citation{cite(CodiceCivile, "2043")},
		},
		{
			name: "spelled out code",
			text: "come previsto dall'articolo 1218 del codice civile",
			want: []models.Citation{cite(CodiceCivile, "1218")},
		},
		{
			name: "article list",
			text: "si vedano gli artt. 1218 e 1223 c.c.",
			want: []models.Citation{cite(CodiceCivile, "1218"), cite(CodiceCivile, "1223")},
		},
		{
			name: "article list with commas",
			text: "articoli 1, 2, e 3 Cost.",
			want: []models.Citation{cite(Costituzione, "1"), cite(Costituzione, "2"), cite(Costituzione, "3")},
		},
		{
			name: "procedural code wins over penal code",
			text: "art. 360 c.p.c. e art. 575 c.p.",
			want: []models.Citation{cite(CodiceProceduraCivile, "360"), cite(CodicePenale, "575")},
		},
		{
			name: "legislative decree",
			text: "art. 5 d.lgs. 231/2001",
			want: []models.Citation{cite("D.Lgs. 231/2001", "5")},
		},
		{
			name: "law with number",
			text: "l'art. 3 della legge n. 241/1990 impone la motivazione",
			want: []models.Citation{cite("Legge 241/1990", "3")},
		},
		{
			name: "latin suffix",
			text: "art. 2645 bis c.c. e art. 2645-ter c.c.",
			want: []models.Citation{cite(CodiceCivile, "2645-bis"), cite(CodiceCivile, "2645-ter")},
		},
		{
			name: "looks ahead when no document precedes",
			text: "L'art. 2043, norma cardine della responsabilità extracontrattuale, è contenuto nel codice civile.",
			want: []models.Citation{cite(CodiceCivile, "2043")},
		},
		{
			name: "falls back to previous document",
			text: "Secondo il codice civile, in particolare l'art. 1453 sulla risoluzione, il contratto si scioglie.",
			want: []models.Citation{cite(CodiceCivile, "1453")},
		},
		{
			name: "each article keeps its own code",
			text: "art. 2043 c.c. nonché art. 3 Cost.",
			want: []models.Citation{cite(CodiceCivile, "2043"), cite(Costituzione, "3")},
		},
		{
			name: "duplicates collapse",
			text: "art. 2043 c.c. ... ancora art. 2043 c.c.",
			want: []models.Citation{cite(CodiceCivile, "2043")},
		},
		{
			name: "article without any document",
			text: "vedi art. 12",
			want: nil,
		},
		{
			name: "no citations",
			text: "Il contratto è l'accordo di due o più parti.",
			want: nil,
		},
	}

	ex := NewRuleExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleExtractorDeterministic(t *testing.T) {
	ex := NewRuleExtractor()
	text := "artt. 1218 e 1223 c.c., art. 5 d.lgs. 231/2001, art. 3 Cost."

	first, err := ex.Extract(context.Background(), text)
	require.NoError(t, err)
	second, err := ex.Extract(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 4)
}

func TestRuleExtractorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRuleExtractor().Extract(ctx, "art. 1 c.c.")
	assert.ErrorIs(t, err, context.Canceled)
}
