package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/abbrev"
	"github.com/fabfab/ragchat/chunker"
	"github.com/fabfab/ragchat/llm"
)

// State is the observable phase of a pipeline. Failed sticks until the
// next operation starts.
type State string

const (
	StateIdle       State = "idle"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StateFailed     State = "failed"
)

// VectorStore indexes chunks and answers similarity queries. Query returns
// at most topK results ordered by descending score.
type VectorStore interface {
	Add(ctx context.Context, chunks []Chunk) error
	Query(ctx context.Context, query string, topK int) ([]Retrieval, error)
}

// Config tunes a Pipeline. Zero values are rejected by New; use the
// config package defaults for a working baseline.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	HistoryWindow    int
	RewriteQuestions bool
	Abbreviations    map[string]string
}

// Pipeline owns one conversation: it ingests documents into the vector
// store and answers questions grounded in retrieved chunks. A mutex
// serializes operations, so a Pipeline handles one request at a time.
type Pipeline struct {
	cfg      Config
	expander *abbrev.Expander
	splitter *chunker.Splitter
	store    VectorStore
	client   llm.Client
	logger   *zap.Logger

	mu      sync.Mutex
	history history

	stateMu sync.RWMutex
	state   State
}

// New validates the configuration and builds a pipeline. All collaborator
// wiring happens here; the pipeline itself opens no connections.
func New(cfg Config, store VectorStore, client llm.Client, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: llm client is required", ErrInvalidConfig)
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("%w: top k must be positive, got %d", ErrInvalidConfig, cfg.TopK)
	}
	if cfg.HistoryWindow < 0 {
		return nil, fmt.Errorf("%w: history window must not be negative, got %d", ErrInvalidConfig, cfg.HistoryWindow)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Pipeline{
		cfg:      cfg,
		expander: abbrev.NewExpander(cfg.Abbreviations),
		splitter: splitter,
		store:    store,
		client:   client,
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// Ingest expands abbreviations in the document text, splits it into
// overlapping chunks, and indexes them. It returns the number of chunks
// indexed. Re-ingesting a document replaces its previous chunks; the
// store keys on chunk IDs, which are stable per document and position.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Source == "" {
		doc.Source = doc.ID
	}
	if strings.TrimSpace(doc.Text) == "" {
		return 0, fmt.Errorf("%w: document %s has no text", ErrIngestion, doc.Source)
	}

	expanded := p.expander.Expand(doc.Text)
	pieces := p.splitter.Split(expanded)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("%w: document %s produced no chunks", ErrIngestion, doc.Source)
	}

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", doc.ID, piece.Index),
			DocumentID: doc.ID,
			Source:     doc.Source,
			Text:       piece.Text,
			Index:      piece.Index,
			Start:      piece.Start,
			End:        piece.End,
			Unit:       p.splitter.Unit(),
		}
	}

	if err := p.store.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("%w: index document %s: %w", ErrIngestion, doc.Source, err)
	}

	p.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("source", doc.Source),
		zap.Int("chunks", len(chunks)))

	return len(chunks), nil
}

// Ask answers a question from the indexed documents and, on success,
// appends the user question and the assistant answer to the history.
// On failure the history is left untouched.
func (p *Pipeline) Ask(ctx context.Context, question string) (Answer, error) {
	return p.ask(ctx, question, nil)
}

// AskStream behaves like Ask but delivers the answer incrementally
// through onDelta when the client supports streaming. The callback runs
// while the pipeline mutex is held and must not call back into it.
func (p *Pipeline) AskStream(ctx context.Context, question string, onDelta func(string)) (Answer, error) {
	return p.ask(ctx, question, onDelta)
}

func (p *Pipeline) ask(ctx context.Context, question string, onDelta func(string)) (Answer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question must not be empty", ErrInvalidConfig)
	}

	p.setState(StateRetrieving)
	window := p.history.window(p.cfg.HistoryWindow)

	searchQuery := question
	if p.cfg.RewriteQuestions && len(window) > 0 {
		rewritten, err := p.client.Generate(ctx, buildRewriteMessages(question, window))
		if err != nil {
			p.setState(StateFailed)
			return Answer{}, fmt.Errorf("%w: rewrite question: %w", ErrGeneration, err)
		}
		if rewritten = strings.TrimSpace(rewritten); rewritten != "" {
			searchQuery = rewritten
			p.logger.Debug("question rewritten",
				zap.String("original", question),
				zap.String("rewritten", rewritten))
		}
	}

	results, err := p.store.Query(ctx, searchQuery, p.cfg.TopK)
	if err != nil {
		p.setState(StateFailed)
		return Answer{}, fmt.Errorf("%w: query vector store: %w", ErrRetrieval, err)
	}
	if len(results) == 0 {
		p.logger.Info("no relevant chunks found", zap.String("question", question))
	}

	p.setState(StateGenerating)
	text, err := p.generate(ctx, buildMessages(question, results, window), onDelta)
	if err != nil {
		p.setState(StateFailed)
		return Answer{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	p.history.append(
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: text},
	)
	p.setState(StateIdle)

	p.logger.Info("turn completed",
		zap.Int("sources", len(results)),
		zap.Int("history_turns", p.history.len()))

	return Answer{Text: text, Sources: results}, nil
}

// generate streams when a callback is given and the client can stream.
// Otherwise it generates in one shot and, if a callback is given, delivers
// the whole answer as a single delta.
func (p *Pipeline) generate(ctx context.Context, messages []llm.Message, onDelta func(string)) (string, error) {
	if onDelta != nil {
		if sc, ok := p.client.(llm.StreamClient); ok {
			return sc.GenerateStream(ctx, messages, onDelta)
		}
	}

	text, err := p.client.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(text)
	}
	return text, nil
}

func (p *Pipeline) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// State reports the phase of the in-flight turn, or the outcome of the
// last one. It does not block behind a running turn.
func (p *Pipeline) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// History returns a copy of the full conversation, oldest first. It waits
// for any in-flight turn to finish.
func (p *Pipeline) History() []Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.all()
}
