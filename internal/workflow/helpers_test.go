package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// fakeLLM answers each operation from a script and records every request
type fakeLLM struct {
	mu     sync.Mutex
	script map[string]func(req llm.Request) (string, error)
	calls  []llm.Request
	model  string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{script: map[string]func(llm.Request) (string, error){}, model: "fake-model"}
}

// reply makes op always return text
func (f *fakeLLM) reply(op, text string) *fakeLLM {
	return f.on(op, func(llm.Request) (string, error) { return text, nil })
}

// fail makes op always return err
func (f *fakeLLM) fail(op string, err error) *fakeLLM {
	return f.on(op, func(llm.Request) (string, error) { return "", err })
}

func (f *fakeLLM) on(op string, fn func(llm.Request) (string, error)) *fakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[op] = fn
	return f
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn, ok := f.script[req.Operation]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no scripted reply for %s", req.Operation)
	}
	return fn(req)
}

func (f *fakeLLM) ModelFor(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return f.model
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) callsFor(op string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, c := range f.calls {
		if c.Operation == op {
			out = append(out, c)
		}
	}
	return out
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *db.Memory
	llm   *fakeLLM
	user  *db.User
	ctx   context.Context
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := db.NewMemory()
	client := newFakeLLM()
	ctx := context.Background()

	user := &db.User{Email: "candidate@example.com", Name: "Candidate", PasswordHash: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))

	seq := 0
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	}
	svc := New(store, client, append(base, opts...)...)
	return &fixture{svc: svc, store: store, llm: client, user: user, ctx: ctx}
}

func (fx *fixture) userID() string {
	return fx.user.ID.String()
}

// setGraph stores kg as the fixture user's graph
func (fx *fixture) setGraph(t *testing.T, kg *types.KnowledgeGraph) {
	t.Helper()
	u, err := fx.store.GetUserByID(fx.ctx, fx.userID())
	require.NoError(t, err)
	kg.Normalize()
	_, err = fx.store.SaveKnowledgeGraph(fx.ctx, fx.userID(), kg, u.KGRevision)
	require.NoError(t, err)
}

func (fx *fixture) graph(t *testing.T) (*types.KnowledgeGraph, int64) {
	t.Helper()
	u, err := fx.store.GetUserByID(fx.ctx, fx.userID())
	require.NoError(t, err)
	return u.KnowledgeGraph, u.KGRevision
}

func (fx *fixture) session(t *testing.T, id string) *types.ResumeSession {
	t.Helper()
	sess, err := fx.store.GetSession(fx.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

// newSession creates a session and lets mutate put it in any state
func (fx *fixture) newSession(t *testing.T, mutate func(*types.ResumeSession)) *types.ResumeSession {
	t.Helper()
	sess, err := fx.svc.CreateSession(fx.ctx, fx.userID(), types.CreateSessionRequest{
		JobRole:        "Backend Engineer",
		CompanyName:    "Acme",
		JobDescription: "Senior Python engineer, 5+ yrs, AWS required",
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(sess)
		require.NoError(t, fx.store.SaveSession(fx.ctx, sess))
	}
	return sess
}

func field(name string, typ types.FieldType, priority int) types.FieldMetadata {
	return types.FieldMetadata{Name: name, Type: typ, Priority: priority, Confidence: 0.8, Source: types.SourceAIInferred}
}

func question(id, related, fieldType string) types.QuestionItem {
	return types.QuestionItem{
		ID:           id,
		Question:     "Tell us about " + related,
		RelatedField: related,
		FieldType:    fieldType,
		Status:       types.QuestionUnanswered,
	}
}
