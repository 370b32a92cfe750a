package analysis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nijaru/scriptparser/config"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAnalyze(t *testing.T) {
	var gotBody chatCompletionRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{
					"content": `{"hook":" Stop scrolling ","core":"Three tips","cta":"Follow","highlights":["tip one",""]}`,
				}},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Name: "demo", APIKey: "secret", BaseURL: srv.URL + "/v1", Model: "demo-model",
		Temperature: 0.7, MaxTokens: 2000,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := client.Analyze(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.Model != "demo-model" || gotBody.MaxTokens != 2000 || gotBody.Temperature != 0.7 {
		t.Errorf("unexpected request settings: %+v", gotBody)
	}
	if gotBody.ResponseFormat["type"] != "json_object" {
		t.Errorf("expected json response format, got %v", gotBody.ResponseFormat)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "transcript text" {
		t.Errorf("unexpected messages: %+v", gotBody.Messages)
	}
	if result.Hook != "Stop scrolling" || result.Core != "Three tips" || result.CTA != "Follow" {
		t.Errorf("unexpected analysis: %+v", result)
	}
	if len(result.Highlights) != 1 || result.Highlights[0] != "tip one" {
		t.Errorf("expected blank highlights dropped, got %v", result.Highlights)
	}
}

func TestClientAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []any{map[string]any{"message": map[string]any{"content": "I cannot help"}}},
				})
			},
		},
		{
			name: "missing cta",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []any{map[string]any{"message": map[string]any{"content": `{"hook":"h","core":"c"}`}}},
				})
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client, err := NewClient(Config{Name: "demo", APIKey: "k", BaseURL: srv.URL, Model: "m"})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := client.Analyze(context.Background(), "text"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewClientRequiresSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no key", Config{Name: "x", BaseURL: "http://a", Model: "m"}},
		{"no base url", Config{Name: "x", APIKey: "k", Model: "m"}},
		{"no model", Config{Name: "x", APIKey: "k", BaseURL: "http://a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain", `{"hook":"h","core":"c","cta":"a"}`, false},
		{"fenced", "```json\n{\"hook\":\"h\",\"core\":\"c\",\"cta\":\"a\"}\n```", false},
		{"prose around", "Here you go: {\"hook\":\"h\",\"core\":\"c\",\"cta\":\"a\"} hope it helps", false},
		{"empty", "   ", true},
		{"no object", "nothing useful", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.StructuredAnalysis
			err := DecodeJSON(tt.content, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Complete() {
				t.Errorf("expected complete analysis, got %+v", got)
			}
		})
	}
}

type fakeProvider struct {
	result *models.StructuredAnalysis
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeProvider) Analyze(ctx context.Context, text string) (*models.StructuredAnalysis, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

var complete = &models.StructuredAnalysis{Hook: "h", Core: "c", CTA: "a"}

func TestRouterPrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{result: complete}
	backup := &fakeProvider{result: complete}
	r := NewRouter(Named{"p", primary}, Named{"b", backup}, WithLogger(quietLogger()))

	got, err := r.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got != complete {
		t.Errorf("unexpected result %+v", got)
	}
	if backup.calls.Load() != 0 {
		t.Error("backup should not be called when primary succeeds")
	}
}

func TestRouterFailover(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeProvider
	}{
		{"primary error", &fakeProvider{err: stderrors.New("boom")}},
		{"primary incomplete", &fakeProvider{result: &models.StructuredAnalysis{Hook: "h"}}},
		{"primary nil result", &fakeProvider{}},
		{"primary timeout", &fakeProvider{result: complete, delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backup := &fakeProvider{result: complete}
			r := NewRouter(Named{"p", tt.primary}, Named{"b", backup},
				WithLogger(quietLogger()), WithTimeout(50*time.Millisecond))

			got, err := r.Analyze(context.Background(), "text")
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if got != complete {
				t.Errorf("expected backup result, got %+v", got)
			}
			if backup.calls.Load() != 1 {
				t.Errorf("expected one backup call, got %d", backup.calls.Load())
			}
		})
	}
}

func TestRouterBothFail(t *testing.T) {
	primaryErr := stderrors.New("primary down")
	backupErr := stderrors.New("backup down")
	r := NewRouter(
		Named{"DeepSeek", &fakeProvider{err: primaryErr}},
		Named{"Kimi", &fakeProvider{err: backupErr}},
		WithLogger(quietLogger()),
	)

	_, err := r.Analyze(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.Is(err, apperrors.KindAnalysisFailed) {
		t.Errorf("expected analysis kind, got %v", apperrors.KindOf(err))
	}

	var failover *FailoverError
	if !stderrors.As(err, &failover) {
		t.Fatalf("expected FailoverError in chain, got %T", err)
	}
	if !stderrors.Is(err, primaryErr) || !stderrors.Is(err, backupErr) {
		t.Error("expected both causes reachable through the chain")
	}
	msg := failover.Error()
	for _, want := range []string{"All analysis providers failed.", "Primary (DeepSeek) error: primary down", "Backup (Kimi) error: backup down"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestRouterStartsAtPrimaryEachCall(t *testing.T) {
	primary := &fakeProvider{err: stderrors.New("down")}
	backup := &fakeProvider{result: complete}
	r := NewRouter(Named{"p", primary}, Named{"b", backup}, WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		if _, err := r.Analyze(context.Background(), "text"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if primary.calls.Load() != 3 {
		t.Errorf("expected primary tried on every call, got %d", primary.calls.Load())
	}
}

func TestNewFromConfig(t *testing.T) {
	srv := completionServer(t, `{"hook":"h","core":"c","cta":"a"}`)
	cfg := config.AnalysisConfig{
		Primary:     config.ProviderKimi,
		Temperature: 0.7,
		MaxTokens:   100,
		DeepSeek:    config.ProviderConfig{APIKey: "d", BaseURL: srv.URL, Model: "deepseek-chat"},
		Kimi:        config.ProviderConfig{APIKey: "k", BaseURL: srv.URL, Model: "moonshot-v1-8k"},
	}

	m, err := NewFromConfig(cfg, srv.Client(), quietLogger(), time.Second)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	for _, r := range []*Router{m.general, m.tech} {
		if r.primary.Name != kimiName || r.backup.Name != deepSeekName {
			t.Errorf("expected kimi primary, got %s/%s", r.primary.Name, r.backup.Name)
		}
	}
	if _, err := m.Analyze(context.Background(), "text", models.ModeGeneral); err != nil {
		t.Errorf("Analyze() error = %v", err)
	}

	cfg.Kimi.APIKey = ""
	if _, err := NewFromConfig(cfg, nil, quietLogger(), time.Second); err == nil {
		t.Error("expected missing key to fail construction")
	}
}

func TestModesSelectPrompt(t *testing.T) {
	var gotPrompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 {
			gotPrompts = append(gotPrompts, req.Messages[0].Content)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": `{"hook":"h","core":"c","cta":"a"}`}},
			},
		})
	}))
	defer srv.Close()

	cfg := config.AnalysisConfig{
		DeepSeek: config.ProviderConfig{APIKey: "d", BaseURL: srv.URL, Model: "deepseek-chat"},
		Kimi:     config.ProviderConfig{APIKey: "k", BaseURL: srv.URL, Model: "moonshot-v1-8k"},
	}
	m, err := NewFromConfig(cfg, srv.Client(), quietLogger(), time.Second)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	for _, mode := range []models.AnalysisMode{models.ModeGeneral, models.ModeTech, ""} {
		if _, err := m.Analyze(context.Background(), "text", mode); err != nil {
			t.Fatalf("Analyze(%q) error = %v", mode, err)
		}
	}

	want := []string{SystemPrompt, TechSystemPrompt, SystemPrompt}
	if len(gotPrompts) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(gotPrompts))
	}
	for i := range want {
		if gotPrompts[i] != want[i] {
			t.Errorf("request %d used the wrong system prompt:\n%s", i, gotPrompts[i])
		}
	}
}

func TestNewModesWithoutTech(t *testing.T) {
	general := &fakeProvider{result: complete}
	r := NewRouter(Named{"p", general}, Named{"b", &fakeProvider{result: complete}}, WithLogger(quietLogger()))

	if _, err := NewModes(r, nil).Analyze(context.Background(), "text", models.ModeTech); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if general.calls.Load() != 1 {
		t.Errorf("expected tech request on the general router, got %d calls", general.calls.Load())
	}
}
