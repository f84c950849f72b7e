// Package workflow implements the resume building operations: job analysis, gap comparison,
// questionnaire generation, answer processing, knowledge graph optimization, free text ingestion
// and the session bookkeeping around them.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/fetch"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/lock"
	"github.com/jonathan/resume-builder/internal/metrics"
	"github.com/jonathan/resume-builder/internal/prompts"
	"github.com/jonathan/resume-builder/internal/types"
)

// Operation names used in logs, metrics and last_action
const (
	OpAnalyze        = "analyze_job"
	OpCompare        = "compare_requirements"
	OpQuestionnaire  = "generate_questionnaire"
	OpAnswer         = "process_answers"
	OpOptimize       = "optimize_graph"
	OpParseText      = "parse_text"
	OpCustomPrompt   = "custom_prompt"
	OpCompanySummary = "company_summary"
)

// DefaultBatchConcurrency bounds the concurrent model calls of one answer batch
const DefaultBatchConcurrency = 4

// rawLogLimit bounds how much of an unparseable response is logged
const rawLogLimit = 500

// Store is the document store the workflow reads and writes
type Store interface {
	GetUserByID(ctx context.Context, id string) (*db.User, error)
	SaveKnowledgeGraph(ctx context.Context, userID string, kg *types.KnowledgeGraph, expectedRevision int64) (int64, error)
	CreateSession(ctx context.Context, s *types.ResumeSession) error
	GetSession(ctx context.Context, id string) (*types.ResumeSession, error)
	ListSessions(ctx context.Context, userID string) ([]types.ResumeSession, error)
	SaveSession(ctx context.Context, s *types.ResumeSession) error
}

// Fetcher retrieves and parses a company web page
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, url string) (*fetch.Page, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	return f(ctx, url)
}

// Service runs workflow operations against a store and a model gateway
type Service struct {
	store      Store
	llm        llm.Client
	locker     lock.Locker
	fetcher    Fetcher
	now        func() time.Time
	newID      func() string
	batchLimit int
}

// Option configures a Service
type Option func(*Service)

// WithLocker sets the per-document locker. The default is in-process.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithFetcher sets how company pages are retrieved
func WithFetcher(f Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets how session and question ids are minted
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithBatchConcurrency bounds concurrent model calls within one answer batch
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// New creates a Service
func New(store Store, client llm.Client, opts ...Option) *Service {
	s := &Service{
		store:  store,
		llm:    client,
		locker: lock.NewLocal(),
		fetcher: FetcherFunc(func(ctx context.Context, url string) (*fetch.Page, error) {
			return fetch.Scrape(ctx, url, nil)
		}),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		batchLimit: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// complete renders a workflow prompt and sends it to the gateway
func (s *Service) complete(ctx context.Context, op, key string, tier llm.ModelTier, data map[string]string) (string, error) {
	if data == nil {
		data = map[string]string{}
	}
	if _, ok := data["Schemas"]; !ok {
		data["Schemas"] = prompts.MustGet(prompts.WorkflowFile, "category-schemas").User
	}
	tmpl := prompts.MustGet(prompts.WorkflowFile, key).Render(data)
	return s.llm.Complete(ctx, llm.Request{
		Operation: op,
		System:    tmpl.System,
		Prompt:    tmpl.User,
		Tier:      tier,
	})
}

// decode extracts JSON from a model response into v. A false return means the caller must use
// its fallback result; the failure is logged and counted here.
func decode(op, raw string, v any) bool {
	if err := llm.DecodeJSON(raw, v); err != nil {
		log.Warn().
			Err(err).
			Str("operation", op).
			Str("raw", llm.Truncate(raw, rawLogLimit)).
			Msg("failed to parse model response, using fallback")
		metrics.ParseFallback(op)
		return false
	}
	return true
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func toCompactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// loadSession fetches a session and checks that userID owns it
func (s *Service) loadSession(ctx context.Context, userID, sessionID string) (*types.ResumeSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if sess.UserID != userID {
		return nil, &ForbiddenError{SessionID: sessionID}
	}
	sess.Normalize()
	return sess, nil
}

// loadUser fetches the user owning a knowledge graph
func (s *Service) loadUser(ctx context.Context, userID string) (*db.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u == nil {
		return nil, &NotFoundError{Kind: "user", ID: userID}
	}
	if u.KnowledgeGraph == nil {
		u.KnowledgeGraph = types.NewKnowledgeGraph()
	}
	u.KnowledgeGraph.Normalize()
	return u, nil
}

// acquire takes the lock for key, reporting contention as a conflict
func (s *Service) acquire(ctx context.Context, document, key string) (func(), error) {
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, &ConflictError{Document: document, Cause: err}
		}
		return nil, fmt.Errorf("failed to lock %s: %w", document, err)
	}
	return release, nil
}

func (s *Service) lockSession(ctx context.Context, sessionID string) (func(), error) {
	return s.acquire(ctx, "session", lock.SessionKey(sessionID))
}

func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	return s.acquire(ctx, "knowledge graph", lock.UserKey(userID))
}

// saveSession persists sess and records a stage transition when the stage moved away from prev
func (s *Service) saveSession(ctx context.Context, sess *types.ResumeSession, prev types.ResumeStage) error {
	if err := s.store.SaveSession(ctx, sess); err != nil {
		if errors.Is(err, db.ErrRevisionMismatch) {
			metrics.Conflict("session")
			return &ConflictError{Document: "session", Cause: err}
		}
		return fmt.Errorf("failed to save session: %w", err)
	}
	if sess.ResumeState.Stage != prev {
		metrics.StageTransition(string(sess.ResumeState.Stage))
	}
	return nil
}

// saveGraph persists kg as u's knowledge graph and advances u's revision
func (s *Service) saveGraph(ctx context.Context, u *db.User, kg *types.KnowledgeGraph) error {
	rev, err := s.store.SaveKnowledgeGraph(ctx, u.ID.String(), kg, u.KGRevision)
	if err != nil {
		if errors.Is(err, db.ErrRevisionMismatch) {
			metrics.Conflict("knowledge_graph")
			return &ConflictError{Document: "knowledge graph", Cause: err}
		}
		return fmt.Errorf("failed to save knowledge graph: %w", err)
	}
	u.KnowledgeGraph = kg
	u.KGRevision = rev
	return nil
}

// failSession moves a session to the error stage after a gateway failure and returns cause.
// Anything other than a gateway failure, including a canceled call, is returned untouched.
func (s *Service) failSession(ctx context.Context, sess *types.ResumeSession, op string, cause error) error {
	if sess == nil || errors.Is(cause, context.Canceled) || !llm.IsUpstreamFailure(cause) {
		return cause
	}
	prev := sess.ResumeState.Stage
	sess.ResumeState.Stage = types.StageError
	sess.ResumeState.LastAction = op + "_failed"
	sess.ResumeState.AIContext["error"] = cause.Error()
	if err := s.saveSession(ctx, sess, prev); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Str("operation", op).Msg("failed to record session error stage")
	}
	return cause
}

// rejectStages returns a PreconditionError when the session sits in one of stages
func rejectStages(sess *types.ResumeSession, op string, stages ...types.ResumeStage) error {
	for _, st := range stages {
		if sess.ResumeState.Stage == st {
			if st == types.StageError {
				return &PreconditionError{Message: fmt.Sprintf("session is in the error stage; re-run job analysis before %s", op)}
			}
			return &PreconditionError{Message: fmt.Sprintf("cannot %s a session in stage %s", op, st)}
		}
	}
	return nil
}
