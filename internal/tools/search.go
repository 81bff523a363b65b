package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/nichescout/nichescout/internal/config"
)

const (
	defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"
	defaultDDGURL   = "https://html.duckduckgo.com/html/"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxBody         = 1 << 20
)

// Searcher runs a web query and returns results as text for a model.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"description"`
}

// WebSearcher queries Brave when an API key is configured and falls back to
// the DuckDuckGo HTML endpoint. All queries share one rate limiter.
type WebSearcher struct {
	braveKey   string
	maxResults int
	limiter    *rate.Limiter
	client     *http.Client

	braveURL string
	ddgURL   string
}

func NewWebSearcher(cfg config.SearchConfig) *WebSearcher {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &WebSearcher{
		braveKey:   cfg.BraveAPIKey,
		maxResults: maxResults,
		limiter:    rate.NewLimiter(limit, burst),
		client:     &http.Client{Timeout: timeout},
		braveURL:   defaultBraveURL,
		ddgURL:     defaultDDGURL,
	}
}

func (s *WebSearcher) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for search slot: %w", err)
	}

	if s.braveKey != "" {
		results, err := s.searchBrave(ctx, query)
		if err == nil {
			return format(query, results), nil
		}
		slog.Warn("brave search failed, falling back to duckduckgo", "error", err)
	}

	results, err := s.searchDuckDuckGo(ctx, query)
	if err != nil {
		return "", err
	}
	return format(query, results), nil
}

type braveResponse struct {
	Web struct {
		Results []Result `json:"results"`
	} `json:"web"`
}

func (s *WebSearcher) searchBrave(ctx context.Context, query string) ([]Result, error) {
	u := s.braveURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Subscription-Token", s.braveKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("brave gzip body: %w", err)
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read brave response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var br braveResponse
	if err := json.Unmarshal(data, &br); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}
	results := br.Web.Results
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}
	return results, nil
}

func (s *WebSearcher) searchDuckDuckGo(ctx context.Context, query string) ([]Result, error) {
	u := s.ddgURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo html: %w", err)
	}
	return parseDuckDuckGo(doc, s.maxResults), nil
}

func parseDuckDuckGo(doc *html.Node, limit int) []Result {
	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r := resultFrom(n); r.URL != "" && r.Title != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func resultFrom(n *html.Node) Result {
	var r Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				r.URL = unwrapRedirect(attr(n, "href"))
				r.Title = text(n)
			case hasClass(n, "result__snippet"):
				r.Snippet = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// unwrapRedirect turns DuckDuckGo's //duckduckgo.com/l/?uddg=<url> links
// into the target url.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Host, "duckduckgo.com") {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func format(query string, results []Result) string {
	if len(results) == 0 {
		return "No results found for: " + query
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\nURL: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "%s\n", r.Snippet)
		}
	}
	return sb.String()
}
