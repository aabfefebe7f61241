package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"lexgraph-backend/directive"
	"lexgraph-backend/llm"
	"lexgraph-backend/metrics"
	"lexgraph-backend/models"
	"lexgraph-backend/storage"

	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the rounds of one question
const DefaultMaxIterations = 10

// DefaultLimit is the result limit of the chunk searches
const DefaultLimit = 3

// AgentStatus is how a question ended
type AgentStatus string

const (
	StatusAnswered          AgentStatus = "answered"
	StatusProtocolViolation AgentStatus = "protocol_violation"
	StatusMaxIterations     AgentStatus = "max_iterations"
)

// Searcher is the search surface the agent dispatches directives to
type Searcher interface {
	SearchByEmbedding(ctx context.Context, docScope, query string, limit int) ([]models.Result, error)
	SearchByText(ctx context.Context, docScope, text string, limit int) ([]models.Result, error)
	SearchByCategory(ctx context.Context, docScope, label string, limit int) ([]models.Result, error)
	SearchByArticle(ctx context.Context, number, lawName string) ([]models.Result, error)
	WideSearch(ctx context.Context, query, lawName string) ([]models.Result, error)
}

// Agent answers questions by letting the model query the graph through
// directives, round after round, until it emits a final answer
type Agent struct {
	llm           llm.Client
	search        Searcher
	documents     DocumentStore
	store         storage.Storage
	maxIterations int
	limit         int
	countTokens   func(string) int
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// AgentOption is a functional option for Agent
type AgentOption func(*Agent)

// AgentWithLLM sets the model client
func AgentWithLLM(c llm.Client) AgentOption {
	return func(a *Agent) {
		a.llm = c
	}
}

// AgentWithSearch sets the search engine
func AgentWithSearch(s Searcher) AgentOption {
	return func(a *Agent) {
		a.search = s
	}
}

// AgentWithDocuments sets the store the document-name list is read from
func AgentWithDocuments(s DocumentStore) AgentOption {
	return func(a *Agent) {
		a.documents = s
	}
}

// AgentWithStorage sets the transcript store
func AgentWithStorage(s storage.Storage) AgentOption {
	return func(a *Agent) {
		a.store = s
	}
}

// AgentWithMaxIterations sets the round ceiling
func AgentWithMaxIterations(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// AgentWithLimit sets the result limit passed to the chunk searches
func AgentWithLimit(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.limit = n
		}
	}
}

// AgentWithTokenCounter enables prompt token accounting in the logs
func AgentWithTokenCounter(count func(string) int) AgentOption {
	return func(a *Agent) {
		a.countTokens = count
	}
}

// AgentWithLogger sets the logger
func AgentWithLogger(logger *zap.Logger) AgentOption {
	return func(a *Agent) {
		a.logger = logger
	}
}

// AgentWithMetrics sets the metrics sink
func AgentWithMetrics(m *metrics.Metrics) AgentOption {
	return func(a *Agent) {
		a.metrics = m
	}
}

// NewAgent creates a new agent
func NewAgent(opts ...AgentOption) *Agent {
	a := &Agent{
		maxIterations: DefaultMaxIterations,
		limit:         DefaultLimit,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AskRequest represents a question to answer
type AskRequest struct {
	Question string
}

// AskResult represents the outcome of a question
type AskResult struct {
	Status        AgentStatus
	Answer        string
	Iterations    int
	Responses     []string
	TranscriptKey string // set when the transcript was persisted
}

// Context is a rendered result tagged with the directive that produced it
type Context struct {
	From string
	Text string
}

var (
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrLLMNotSet        = errors.New("llm client not set")
	ErrUnknownDirective = errors.New("unknown directive")
)

const systemPrompt = `Sei un assistente di ricerca per uno studio legale. Rispondi alle domande degli avvocati consultando un grafo di documenti e testi normativi tramite le funzioni seguenti, scritte nel formato <api>funzione('documento','argomento')</api>:

<api>search_by_embedding('documento','testo')</api> cerca per similarità semantica con testo nel documento
<api>search_by_text('documento','testo')</api> cerca per contenuto testuale nel documento
<api>search_by_category('documento','categoria')</api> cerca le entità di una categoria nel documento
  categorie: articolo, azienda, organizzazione, località, soggetto, ruolo, ente giuridico, procedura legale, persona, indirizzo, data, importo, contratto, oggetto
<api>search_by_article('numero','legge')</api> cerca l'articolo numero della legge indicata (es. 'Codice Civile')
<api>wide_search('testo','legge')</api> cerca nella legge indicata gli articoli più vicini a testo
<api>end_querying(risposta)</api> termina e restituisce la risposta finale, citando le fonti con [Fonte: nome documento]

Le funzioni di ricerca possono essere chiamate più volte nella stessa risposta. Se 'documento' è vuoto la ricerca riguarda tutti i documenti.
Ogni messaggio contiene la domanda in <domanda>, l'iterazione corrente in <iterazione> e i contesti trovati in <contesti>; ogni contesto è preceduto dalla chiamata che lo ha prodotto in <from></from>.
Puoi continuare a cercare fino all'iterazione 4. All'iterazione 5 DEVI rispondere con end_querying sulla base dei contesti raccolti.
Documenti diversi possono riguardare le stesse persone, transazioni o importi: non trattarli come elementi distinti.
Non includere testo fuori dai tag <api></api>.`

var promptTemplate = template.Must(template.New("prompt").Parse(`<corpo>
<domanda>{{.Question}}</domanda>
<iterazione>{{.Iteration}}</iterazione>
<contesti>{{range .Contexts}}
<from>{{.From}}</from>
{{.Text}}{{end}}
</contesti>
</corpo>
Nomi dei documenti disponibili da usare nelle chiamate: [{{.Documents}}]
`))

type promptData struct {
	Question  string
	Iteration int
	Contexts  []Context
	Documents string
}

// RenderPrompt renders the prompt of one round
func RenderPrompt(question string, iteration int, contexts []Context, documents []string) (string, error) {
	quoted := make([]string, len(documents))
	for i, d := range documents {
		quoted[i] = "'" + d + "'"
	}
	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		Question:  question,
		Iteration: iteration,
		Contexts:  contexts,
		Documents: strings.Join(quoted, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}

// Ask runs the question loop. A model error aborts the question; nothing is
// persisted unless the model emits a final answer.
func (a *Agent) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if a.llm == nil {
		return nil, ErrLLMNotSet
	}
	if a.search == nil {
		return nil, ErrRepositoryNotSet
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	logger := a.logger.With(zap.String("question", question))
	documents := a.documentNames(ctx)

	var (
		contexts  []Context
		responses []string
	)
	for k := 1; k <= a.maxIterations; k++ {
		a.metrics.Iteration()

		prompt, err := RenderPrompt(question, k, contexts, documents)
		if err != nil {
			return nil, err
		}
		if a.countTokens != nil {
			logger.Debug("prompt rendered",
				zap.Int("iteration", k),
				zap.Int("tokens", a.countTokens(systemPrompt+prompt)))
		}

		response, err := a.llm.Generate(ctx, systemPrompt, prompt)
		if err != nil {
			a.metrics.QuestionDone("error")
			return nil, fmt.Errorf("iteration %d: %w", k, err)
		}
		responses = append(responses, response)
		logger.Debug("model response", zap.Int("iteration", k), zap.String("response", response))

		batch := directive.Parse(response)
		a.metrics.ParseErrors(len(batch.Errors))
		for _, perr := range batch.Errors {
			logger.Warn("malformed directive dropped", zap.Int("iteration", k), zap.Error(perr))
		}

		if batch.Terminal {
			return a.finish(ctx, logger, question, batch.Answer, k, responses)
		}
		if batch.Empty() {
			logger.Warn("no directive in model response", zap.Int("iteration", k))
			a.metrics.QuestionDone(string(StatusProtocolViolation))
			return &AskResult{
				Status:     StatusProtocolViolation,
				Iterations: k,
				Responses:  responses,
			}, nil
		}

		for _, call := range batch.Calls {
			results, err := a.Dispatch(ctx, call)
			a.metrics.Directive(call.Name, err)
			if err != nil {
				logger.Warn("directive failed",
					zap.String("directive", call.String()),
					zap.Error(err))
				continue
			}
			logger.Debug("directive dispatched",
				zap.String("directive", call.String()),
				zap.Int("results", len(results)))

			from := call.String()
			for _, text := range Combine(results) {
				contexts = append(contexts, Context{From: from, Text: text})
			}
		}
	}

	logger.Warn("maximum iterations reached without a final answer", zap.Int("iterations", a.maxIterations))
	a.metrics.QuestionDone(string(StatusMaxIterations))
	return &AskResult{
		Status:     StatusMaxIterations,
		Iterations: a.maxIterations,
		Responses:  responses,
	}, nil
}

func (a *Agent) finish(ctx context.Context, logger *zap.Logger, question, answer string, k int, responses []string) (*AskResult, error) {
	res := &AskResult{
		Status:     StatusAnswered,
		Answer:     answer,
		Iterations: k,
		Responses:  responses,
	}
	if a.store != nil {
		key, err := a.store.Save(ctx, &models.Transcript{
			Question:       question,
			ModelResponses: responses,
			FinalAnswer:    answer,
		})
		if err != nil {
			a.metrics.QuestionDone("error")
			return nil, fmt.Errorf("failed to persist transcript: %w", err)
		}
		res.TranscriptKey = key
	}
	logger.Info("question answered", zap.Int("iterations", k), zap.String("transcript", res.TranscriptKey))
	a.metrics.QuestionDone(string(StatusAnswered))
	return res, nil
}

// Dispatch runs one search directive
func (a *Agent) Dispatch(ctx context.Context, call directive.Call) ([]models.Result, error) {
	switch call.Name {
	case directive.SearchByEmbedding:
		return a.search.SearchByEmbedding(ctx, call.Doc, call.Arg, a.limit)
	case directive.SearchByText:
		return a.search.SearchByText(ctx, call.Doc, call.Arg, a.limit)
	case directive.SearchByCategory:
		return a.search.SearchByCategory(ctx, call.Doc, call.Arg, a.limit)
	case directive.SearchByArticle:
		return a.search.SearchByArticle(ctx, call.Doc, call.Arg)
	case directive.WideSearch:
		return a.search.WideSearch(ctx, call.Doc, call.Arg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDirective, call.Name)
	}
}

// Combine turns the results of one directive into context texts, one per
// result, in order
func Combine(results []models.Result) []string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Render()
	}
	return texts
}

func (a *Agent) documentNames(ctx context.Context) []string {
	if a.documents == nil {
		return nil
	}
	names, err := a.documents.ListNames(ctx)
	if err != nil {
		a.logger.Warn("failed to list documents", zap.Error(err))
		return nil
	}
	return names
}
