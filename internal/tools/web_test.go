package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" || r.URL.Query().Get("cx") != "cx1" {
			http.Error(w, "bad key", http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("num") != "5" {
			t.Errorf("expected default num=5, got %s", r.URL.Query().Get("num"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"Go","link":"https://go.dev","snippet":"The Go language"}]}`))
	}))
	defer srv.Close()

	tool := &WebSearchTool{APIKey: "k", EngineID: "cx1", Endpoint: srv.URL, Client: srv.Client()}
	out, err := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "https://go.dev") {
		t.Fatalf("expected link in %s", out)
	}
}

func TestWebSearchToolNotConfigured(t *testing.T) {
	tool := &WebSearchTool{}
	if _, err := tool.Execute(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestWebSearchToolHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := &WebSearchTool{APIKey: "k", EngineID: "cx", Endpoint: srv.URL, Client: srv.Client()}
	_, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	if ReasonOf(err) != ReasonNetwork {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestWebScrapeTool(t *testing.T) {
	long := strings.Repeat("a", MaxScrapeChars+100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/long" {
			_, _ = w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
			return
		}
		_, _ = w.Write([]byte(`<html><head><style>body{}</style><script>var x=1;</script></head>
<body><h1>Title</h1><p>Hello   world</p></body></html>`))
	}))
	defer srv.Close()

	tool := &WebScrapeTool{Client: srv.Client()}
	out, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "Title\nHello world" {
		t.Fatalf("unexpected text %q", out)
	}

	out, err = tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/long"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len([]rune(out)) != MaxScrapeChars {
		t.Fatalf("expected truncation to %d, got %d", MaxScrapeChars, len(out))
	}
}

func TestWebScrapeToolRejectsBadURL(t *testing.T) {
	tool := &WebScrapeTool{}
	if _, err := tool.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"}); err == nil {
		t.Fatal("expected error for non-http url")
	}
}

func TestWebScrapeToolNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tool := &WebScrapeTool{}
	if _, err := tool.Execute(context.Background(), map[string]any{"url": url}); ReasonOf(err) != ReasonNetwork {
		t.Fatalf("expected network failure, got %v", err)
	}
}
