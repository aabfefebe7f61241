package service

import (
	"context"
	"errors"
	"strings"

	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchThreshold is the document-name similarity a citation must exceed to
// resolve. A score equal to the threshold does not match.
const MatchThreshold = 0.8

// Matcher resolves citations and links citing nodes to cited articles
type Matcher interface {
	FindBestMatch(ctx context.Context, docName, articleNumber string) models.Match
	CreateRelated(ctx context.Context, sourceID, targetID uuid.UUID, text *string) (bool, error)
}

// CitationMatcher resolves (document name, article number) pairs against the
// graph
type CitationMatcher struct {
	documents DocumentStore
	content   ContentStore
	relations RelationStore
	logger    *zap.Logger
}

// MatcherOption is a functional option for CitationMatcher
type MatcherOption func(*CitationMatcher)

// MatcherWithDocuments sets the document store
func MatcherWithDocuments(s DocumentStore) MatcherOption {
	return func(m *CitationMatcher) {
		m.documents = s
	}
}

// MatcherWithContent sets the content store
func MatcherWithContent(s ContentStore) MatcherOption {
	return func(m *CitationMatcher) {
		m.content = s
	}
}

// MatcherWithRelations sets the relation store
func MatcherWithRelations(s RelationStore) MatcherOption {
	return func(m *CitationMatcher) {
		m.relations = s
	}
}

// MatcherWithLogger sets the logger
func MatcherWithLogger(logger *zap.Logger) MatcherOption {
	return func(m *CitationMatcher) {
		m.logger = logger
	}
}

// NewCitationMatcher creates a new citation matcher
func NewCitationMatcher(opts ...MatcherOption) *CitationMatcher {
	m := &CitationMatcher{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var quoteReplacer = strings.NewReplacer(
	`"`, " ", "'", " ", "`", " ",
	"«", " ", "»", " ",
	"‘", " ", "’", " ", "“", " ", "”", " ",
)

// NormalizeDocumentName trims the name, neutralizes quotes and collapses
// whitespace
func NormalizeDocumentName(name string) string {
	return strings.Join(strings.Fields(quoteReplacer.Replace(name)), " ")
}

// FindBestMatch resolves a citation. It never fails: a backend error is
// logged and reported as no match.
func (m *CitationMatcher) FindBestMatch(ctx context.Context, docName, articleNumber string) models.Match {
	if m.documents == nil || m.content == nil {
		m.logger.Error("citation matcher not configured", zap.Error(ErrRepositoryNotSet))
		return models.NoMatch
	}

	name := NormalizeDocumentName(docName)
	if name == "" {
		return models.NoMatch
	}

	docID, score, err := m.documents.BestByLegalName(ctx, name)
	if err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			m.logger.Warn("document lookup failed",
				zap.String("document", name),
				zap.Error(err))
		}
		return models.NoMatch
	}
	if score <= MatchThreshold {
		return models.NoMatch
	}

	match := models.Match{DocumentID: uuid.NullUUID{UUID: docID, Valid: true}}

	number := strings.TrimSpace(articleNumber)
	if number == "" {
		return match
	}
	titles := []string{models.ArticleTitle(number), models.ArticleTitleLong(number)}
	articleID, err := m.content.FindLeafUnderDocument(ctx, docID, titles)
	if err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			m.logger.Warn("article lookup failed",
				zap.String("document", name),
				zap.String("article", number),
				zap.Error(err))
			return models.NoMatch
		}
		return match
	}

	match.ArticleID = uuid.NullUUID{UUID: articleID, Valid: true}
	return match
}

// CreateRelated links source to the cited target unless the pair is already
// linked. It reports whether a new edge was written.
func (m *CitationMatcher) CreateRelated(ctx context.Context, sourceID, targetID uuid.UUID, text *string) (bool, error) {
	if m.relations == nil {
		return false, ErrRepositoryNotSet
	}
	return m.relations.Create(ctx, models.RelatedEdge{
		SourceID:   sourceID,
		TargetID:   targetID,
		TargetKind: models.TargetContent,
		Text:       text,
	})
}
