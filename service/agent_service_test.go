package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"lexgraph-backend/directive"
	"lexgraph-backend/llm"
	"lexgraph-backend/models"
	"lexgraph-backend/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedLLM replays responses in order and records every prompt. Once the
// script runs out it repeats the last response.
type scriptedLLM struct {
	responses []string
	prompts   []string
	err       error
}

func (s *scriptedLLM) Generate(_ context.Context, system, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.prompts = append(s.prompts, prompt)
	i := min(len(s.prompts)-1, len(s.responses)-1)
	return s.responses[i], nil
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeSearcher) record(name, a, b string) ([]models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := fmt.Sprintf("%s(%s,%s)", name, a, b)
	f.calls = append(f.calls, call)
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return []models.Result{
		{ID: uuid.New(), Text: "testo di " + b, Source: a},
		{ID: uuid.New(), Text: "altro testo di " + b, Source: a},
	}, nil
}

func (f *fakeSearcher) SearchByEmbedding(_ context.Context, doc, q string, _ int) ([]models.Result, error) {
	return f.record(directive.SearchByEmbedding, doc, q)
}

func (f *fakeSearcher) SearchByText(_ context.Context, doc, q string, _ int) ([]models.Result, error) {
	return f.record(directive.SearchByText, doc, q)
}

func (f *fakeSearcher) SearchByCategory(_ context.Context, doc, q string, _ int) ([]models.Result, error) {
	return f.record(directive.SearchByCategory, doc, q)
}

func (f *fakeSearcher) SearchByArticle(_ context.Context, number, law string) ([]models.Result, error) {
	return f.record(directive.SearchByArticle, number, law)
}

func (f *fakeSearcher) WideSearch(_ context.Context, q, law string) ([]models.Result, error) {
	return f.record(directive.WideSearch, q, law)
}

type countingStore struct {
	storage.Storage
	saves int
}

func (c *countingStore) Save(ctx context.Context, t *models.Transcript) (string, error) {
	c.saves++
	return c.Storage.Save(ctx, t)
}

func newAgent(t *testing.T, client llm.Client, search Searcher, store storage.Storage) *Agent {
	return NewAgent(
		AgentWithLLM(client),
		AgentWithSearch(search),
		AgentWithStorage(store),
		AgentWithDocuments(&fakeDocuments{content: &fakeContent{}, names: []string{"CodiceCivile", "contratto.pdf"}}),
		AgentWithLogger(zaptest.NewLogger(t)),
	)
}

func localStore(t *testing.T) *countingStore {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return &countingStore{Storage: s}
}

func TestAskScriptedThreeRounds(t *testing.T) {
	search := "<api>search_by_text('CodiceCivile','obbligazioni')</api>"
	client := &scriptedLLM{responses: []string{search, search, "<api>end_querying('La risposta è...')</api>"}}
	searcher := &fakeSearcher{}
	store := localStore(t)
	agent := newAgent(t, client, searcher, store)

	res, err := agent.Ask(context.Background(), AskRequest{Question: "Da dove derivano le obbligazioni?"})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.Equal(t, "La risposta è...", res.Answer)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, searcher.calls, 2)
	require.Equal(t, 1, store.saves)

	saved, err := store.Load(context.Background(), res.TranscriptKey)
	require.NoError(t, err)
	assert.Equal(t, "Da dove derivano le obbligazioni?", saved.Question)
	assert.Len(t, saved.ModelResponses, 3)
	assert.Equal(t, client.responses, saved.ModelResponses)
	assert.Equal(t, "La risposta è...", saved.FinalAnswer)
}

func TestAskPromptCarriesContexts(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"<api>search_by_text('CodiceCivile','obbligazioni')</api>",
		"<api>end_querying(fatto)</api>",
	}}
	agent := newAgent(t, client, &fakeSearcher{}, localStore(t))

	_, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	require.NoError(t, err)
	require.Len(t, client.prompts, 2)

	first := client.prompts[0]
	assert.Contains(t, first, "<domanda>q</domanda>")
	assert.Contains(t, first, "<iterazione>1</iterazione>")
	assert.Contains(t, first, "['CodiceCivile', 'contratto.pdf']")
	assert.NotContains(t, first, "<from>")

	second := client.prompts[1]
	assert.Contains(t, second, "<iterazione>2</iterazione>")
	assert.Equal(t, 2, strings.Count(second, "<from>search_by_text('CodiceCivile','obbligazioni')</from>"))
	assert.Contains(t, second, "testo di obbligazioni")
	assert.Contains(t, second, "[Fonte: CodiceCivile]")
}

func TestAskMaxIterationsPersistsNothing(t *testing.T) {
	client := &scriptedLLM{responses: []string{"<api>search_by_embedding('','contratto')</api>"}}
	store := localStore(t)
	agent := newAgent(t, client, &fakeSearcher{}, store)

	res, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 10, res.Iterations)
	assert.Len(t, client.prompts, 10)
	assert.Len(t, res.Responses, 10)
	assert.Empty(t, res.TranscriptKey)
	assert.Equal(t, 0, store.saves)
}

func TestAskProtocolViolation(t *testing.T) {
	for name, response := range map[string]string{
		"no directive":       "Non so rispondere.",
		"only malformed":     "<api>search_by_foo('a','b')</api>",
		"unterminated quote": "<api>search_by_text('a','b)</api>",
		"empty api tag":      "<api></api>",
	} {
		t.Run(name, func(t *testing.T) {
			client := &scriptedLLM{responses: []string{response, "<api>end_querying(x)</api>"}}
			store := localStore(t)
			searcher := &fakeSearcher{}
			agent := newAgent(t, client, searcher, store)

			res, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
			require.NoError(t, err)
			assert.Equal(t, StatusProtocolViolation, res.Status)
			assert.Equal(t, 1, res.Iterations)
			assert.Empty(t, searcher.calls)
			assert.Equal(t, 0, store.saves)
		})
	}
}

func TestAskTerminalShortCircuitsSiblings(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"<api>search_by_text('A','x')</api><api>end_querying(&quot;fine&quot; (art. 2043))</api><api>wide_search('y','')</api>",
	}}
	searcher := &fakeSearcher{}
	store := localStore(t)
	agent := newAgent(t, client, searcher, store)

	res, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.Equal(t, `"fine" (art. 2043)`, res.Answer)
	assert.Empty(t, searcher.calls)
	assert.Equal(t, 1, store.saves)
}

func TestAskIsolatesDirectiveFailures(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"<api>search_by_text('A','x')</api><api>search_by_embedding('A','y')</api><api>search_by_foo('z')</api>",
		"<api>end_querying(ok)</api>",
	}}
	searcher := &fakeSearcher{fail: map[string]error{directive.SearchByText: errors.New("syntax error in tsquery")}}
	agent := newAgent(t, client, searcher, localStore(t))

	res, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.Equal(t, []string{"search_by_text(A,x)", "search_by_embedding(A,y)"}, searcher.calls)

	second := client.prompts[1]
	assert.NotContains(t, second, "<from>search_by_text")
	assert.Contains(t, second, "<from>search_by_embedding('A','y')</from>")
}

func TestAskDispatchesAliases(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"<api>search_article('2043','Codice Civile')</api><api>wide_article('danno ingiusto','Codice Civile')</api><api>search_by_category('','persona')</api>",
		"<api>end_querying(ok)</api>",
	}}
	searcher := &fakeSearcher{}
	agent := newAgent(t, client, searcher, localStore(t))

	_, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"search_by_article(2043,Codice Civile)",
		"wide_search(danno ingiusto,Codice Civile)",
		"search_by_category(,persona)",
	}, searcher.calls)
}

func TestAskLLMErrorAborts(t *testing.T) {
	client := &scriptedLLM{err: errors.New("deadline exceeded")}
	store := localStore(t)
	agent := newAgent(t, client, &fakeSearcher{}, store)

	res, err := agent.Ask(context.Background(), AskRequest{Question: "q"})
	assert.ErrorContains(t, err, "deadline exceeded")
	assert.Nil(t, res)
	assert.Equal(t, 0, store.saves)
}

func TestAskValidation(t *testing.T) {
	_, err := NewAgent().Ask(context.Background(), AskRequest{Question: "q"})
	assert.ErrorIs(t, err, ErrLLMNotSet)

	agent := newAgent(t, &scriptedLLM{}, &fakeSearcher{}, localStore(t))
	_, err = agent.Ask(context.Background(), AskRequest{Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestDispatchUnknownDirective(t *testing.T) {
	agent := newAgent(t, &scriptedLLM{}, &fakeSearcher{}, nil)
	_, err := agent.Dispatch(context.Background(), directive.Call{Name: "drop_tables"})
	assert.ErrorIs(t, err, ErrUnknownDirective)
}

func TestCombinePreservesOrderAndArity(t *testing.T) {
	results := []models.Result{
		{Text: "uno", Source: "A"},
		{Text: "uno", Source: "A"},
		{Text: "due", Title: "Art. 2", LawName: "Codice Civile"},
	}
	texts := Combine(results)
	require.Len(t, texts, 3)
	assert.Equal(t, texts[0], texts[1])
	assert.Equal(t, "[Fonte: A]\nuno", texts[0])
	assert.Equal(t, "[Fonte: Codice Civile]\nArt. 2\ndue", texts[2])
	assert.Empty(t, Combine(nil))
}
