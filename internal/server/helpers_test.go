package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonathan/resume-builder/internal/config"
	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/fetch"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/server/ratelimit"
	"github.com/jonathan/resume-builder/internal/workflow"
)

const testSecret = "test-secret-key-for-jwt-signing"

// scriptedLLM replies per workflow operation
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{replies: map[string]string{}, errs: map[string]error{}}
}

func (l *scriptedLLM) set(op, reply string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies[op] = reply
	delete(l.errs, op)
}

func (l *scriptedLLM) fail(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[op] = err
}

func (l *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.errs[req.Operation]; ok {
		return "", err
	}
	reply, ok := l.replies[req.Operation]
	if !ok {
		return "", fmt.Errorf("no reply scripted for %s", req.Operation)
	}
	return reply, nil
}

func (l *scriptedLLM) ModelFor(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return "test-model"
}

func (l *scriptedLLM) Close() error { return nil }

// failingPinger reports the store as down
type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("connection refused") }

type harness struct {
	srv     *Server
	handler http.Handler
	store   *db.Memory
	llm     *scriptedLLM
}

type harnessOption func(*Config, *Deps)

func withRateLimit(cfg *ratelimit.Config) harnessOption {
	return func(_ *Config, d *Deps) { d.RateLimit = cfg }
}

func withPinger(p Pinger) harnessOption {
	return func(_ *Config, d *Deps) { d.Pinger = p }
}

func withGateway(g GatewayHealth) harnessOption {
	return func(_ *Config, d *Deps) { d.Gateway = g }
}

type fakeGateway struct {
	state   string
	healthy bool
}

func (g fakeGateway) State() string   { return g.state }
func (g fakeGateway) IsHealthy() bool { return g.healthy }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := db.NewMemory()
	client := newScriptedLLM()
	svc := workflow.New(store, client, workflow.WithFetcher(workflow.FetcherFunc(
		func(_ context.Context, url string) (*fetch.Page, error) {
			return &fetch.Page{
				URL:        url,
				Title:      "Acme Robotics",
				Paragraphs: []string{"Acme builds warehouse robots."},
			}, nil
		})))

	cfg := Config{Port: 8080, CORSOrigins: []string{"https://app.example"}}
	deps := Deps{
		Workflow:  svc,
		Users:     store,
		Pinger:    store,
		JWT:       &config.JWTConfig{Secret: testSecret, ExpirationHours: 720},
		Password:  &config.PasswordConfig{BcryptCost: bcrypt.MinCost},
		RateLimit: &ratelimit.Config{Enabled: false},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	srv, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, handler: srv.Handler(), store: store, llm: client}
}

// do sends a request through the full middleware chain. token may be empty.
func (h *harness) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// signup creates an account and returns its token
func (h *harness) signup(t *testing.T, email string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":    email,
		"password": "correct horse battery",
		"name":     "Test User",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	decodeBody(t, rec, &resp)
	msg, _ := resp["error"].(string)
	return msg
}
