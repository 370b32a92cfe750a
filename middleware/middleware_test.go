package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/models"
	"github.com/nijaru/scriptparser/workflow"
	"github.com/sirupsen/logrus"
)

func newTestLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mark("a"), nil, mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "a,b" {
		t.Errorf("expected a,b got %v", order)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" {
			t.Fatal("expected a request id in context")
		}
		if rr.Header().Get("X-Request-ID") != seen {
			t.Errorf("header %q does not match context %q", rr.Header().Get("X-Request-ID"), seen)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen != "abc-123" {
			t.Errorf("expected caller id, got %q", seen)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	h := NewRateLimiter(1, 1).Middleware(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/parse", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/parse", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", second.Code)
	}

	var result models.WorkflowResult
	if err := json.NewDecoder(second.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Data != nil || result.Code != workflow.CodeRateLimited || result.Message != workflow.MessageRateLimited {
		t.Errorf("unexpected envelope %+v", result)
	}
}

func TestRecovery(t *testing.T) {
	log, buf := newTestLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Logging(log), Recovery(log))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/parse", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != float64(9999) || body["success"] != false {
		t.Errorf("unexpected body %v", body)
	}
	if v, ok := body["data"]; !ok || v != nil {
		t.Errorf("expected explicit null data, got %v", body)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("panic value leaked to client")
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestRecoveryOutermostReportsElapsedTime(t *testing.T) {
	log, _ := newTestLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		panic("boom")
	}), Recovery(log), RequestID(), Logging(log))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/parse", nil))

	var result models.WorkflowResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Code != workflow.CodeUnknown {
		t.Fatalf("expected code %d, got %d", workflow.CodeUnknown, result.Code)
	}
	if result.ProcessingTime < 0.015 {
		t.Errorf("expected processing time to cover the handler, got %v", result.ProcessingTime)
	}
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         600,
	}
	h := CORS(cfg)(okHandler())

	t.Run("preflight", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/parse", nil))
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing allow origin header")
		}
		if rr.Header().Get("Access-Control-Max-Age") != "600" {
			t.Errorf("unexpected max age %q", rr.Header().Get("Access-Control-Max-Age"))
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rr := httptest.NewRecorder()
		CORS(config.CORSConfig{})(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers when disabled")
		}
	})
}

func TestLogging(t *testing.T) {
	log, buf := newTestLogger()
	var scoped *logrus.Entry
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = GetLogger(r.Context())
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("{}"))
	}), RequestID(), Logging(log))

	req := httptest.NewRequest(http.MethodPost, "/parse", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if scoped == nil || scoped.Data["request_id"] != "req-1" {
		t.Fatalf("expected request-scoped logger, got %+v", scoped)
	}

	var last map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatal(err)
	}
	if last["status"] != float64(http.StatusUnprocessableEntity) {
		t.Errorf("expected status 422 in log, got %v", last["status"])
	}
	if last["level"] != "warning" {
		t.Errorf("expected warning level, got %v", last["level"])
	}
	if last["size"] != float64(2) {
		t.Errorf("expected size 2, got %v", last["size"])
	}
}
