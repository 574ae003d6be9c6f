package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultSearchEndpoint is the Google Custom Search JSON API.
	DefaultSearchEndpoint = "https://www.googleapis.com/customsearch/v1"
	// MaxScrapeChars caps the text returned by web_scrape.
	MaxScrapeChars = 5000

	webTimeout   = 15 * time.Second
	maxBodyBytes = 2 << 20
	userAgent    = "Mozilla/5.0 (compatible; sysclaw/1.0)"
)

var blankLines = regexp.MustCompile(`\n{2,}`)

// WebSearchTool queries a Programmable Search Engine.
type WebSearchTool struct {
	APIKey   string
	EngineID string
	Endpoint string
	Client   *http.Client
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Tier() int    { return TierReadOnly }

func (t *WebSearchTool) Description() string {
	return "Search the web and return titles, links and snippets of the top results."
}

func (t *WebSearchTool) Schema() Schema {
	return Object(
		Required("query", TypeString, "The search query"),
		Optional("num_results", TypeInteger, "Number of results, 1 to 10 (default 5)"),
	)
}

type searchArgs struct {
	Query      string `arg:"query"`
	NumResults int    `arg:"num_results"`
}

// SearchResult is one web_search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args searchArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	if t.APIKey == "" || t.EngineID == "" {
		return "", Fail(ReasonCapability, "web search is not configured: set the search API key and engine id")
	}
	if args.NumResults <= 0 || args.NumResults > 10 {
		args.NumResults = 5
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	q := url.Values{}
	q.Set("key", t.APIKey)
	q.Set("cx", t.EngineID)
	q.Set("q", args.Query)
	q.Set("num", fmt.Sprint(args.NumResults))

	body, err := fetch(ctx, t.Client, endpoint+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	var payload struct {
		Items []SearchResult `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", Wrap(ReasonNetwork, err, "decode search response")
	}
	if len(payload.Items) == 0 {
		return "No results found.", nil
	}
	return toJSON(payload.Items)
}

// WebScrapeTool fetches a page and returns its visible text.
type WebScrapeTool struct {
	Client *http.Client
}

func (t *WebScrapeTool) Name() string { return "web_scrape" }
func (t *WebScrapeTool) Tier() int    { return TierReadOnly }

func (t *WebScrapeTool) Description() string {
	return fmt.Sprintf("Fetch a web page and return its text content (first %d characters).", MaxScrapeChars)
}

func (t *WebScrapeTool) Schema() Schema {
	return Object(Required("url", TypeString, "The http or https URL to scrape"))
}

type scrapeArgs struct {
	URL string `arg:"url"`
}

func (t *WebScrapeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args scrapeArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	u, err := url.Parse(args.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", Fail(ReasonCapability, "invalid url %q", args.URL)
	}
	body, err := fetch(ctx, t.Client, u.String())
	if err != nil {
		return "", err
	}
	text, err := htmlText(string(body))
	if err != nil {
		return "", Wrap(ReasonCapability, err, "parse html")
	}
	return truncateRunes(text, MaxScrapeChars), nil
}

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Wrap(ReasonCapability, err, "build request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, Wrap(ReasonNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, Wrap(ReasonNetwork, err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Fail(ReasonNetwork, "HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}
	return body, nil
}

func htmlText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "svg", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(blankLines.ReplaceAllString(sb.String(), "\n")), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
