package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// WebOptions configures the researcher's web tools.
type WebOptions struct {
	Engine     string // duckduckgo | searxng
	MaxResults int
	SearXNGURL string
	Region     string
	Timeout    time.Duration
}

func (o WebOptions) defaults() WebOptions {
	if o.Engine == "" {
		o.Engine = "duckduckgo"
	}
	if o.MaxResults == 0 {
		o.MaxResults = 5
	}
	if o.SearXNGURL == "" {
		o.SearXNGURL = "https://searx.be"
	}
	if o.Timeout == 0 {
		o.Timeout = 20 * time.Second
	}
	return o
}

// searchResult is one hit from a search engine.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

var (
	ddgResultPattern  = regexp.MustCompile(`<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	spacePattern      = regexp.MustCompile(`\s+`)
	scriptPattern     = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// NewWebSearchTool queries the configured search engine.
func NewWebSearchTool(opts WebOptions) *Tool {
	opts = opts.defaults()
	hc := &http.Client{Timeout: opts.Timeout}

	return &Tool{
		name:        "web_search",
		description: "Search the web. Returns titles, URLs, and snippets of the top results.",
		capability:  CapWeb,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
			},
			"required": []string{"query"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			query := argString(args, "query")
			if query == "" {
				return failure("web_search", ErrTypeInvalidParams, "query is required")
			}

			var (
				results []searchResult
				err     error
			)
			switch opts.Engine {
			case "searxng":
				results, err = searchSearXNG(ctx, hc, opts, query)
			default:
				results, err = searchDuckDuckGo(ctx, hc, opts, query)
			}
			if err != nil {
				return failure("web_search", ErrTypeNetwork, err.Error())
			}
			if len(results) == 0 {
				return success("web_search", "No results found for: "+query)
			}

			var sb strings.Builder
			for i, r := range results {
				if i >= opts.MaxResults {
					break
				}
				fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
				if r.Snippet != "" {
					fmt.Fprintf(&sb, "   %s\n", r.Snippet)
				}
			}
			return success("web_search", sb.String())
		},
	}
}

func searchDuckDuckGo(ctx context.Context, hc *http.Client, opts WebOptions, query string) ([]searchResult, error) {
	u := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	if opts.Region != "" {
		u += "&kl=" + url.QueryEscape(opts.Region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "codeclaw/1.0")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, err
	}

	links := ddgResultPattern.FindAllStringSubmatch(string(body), -1)
	snippets := ddgSnippetPattern.FindAllStringSubmatch(string(body), -1)

	var results []searchResult
	for i, m := range links {
		r := searchResult{URL: stripTags(m[1]), Title: stripTags(m[2])}
		if i < len(snippets) {
			r.Snippet = stripTags(snippets[i][1])
		}
		results = append(results, r)
	}
	return results, nil
}

func searchSearXNG(ctx context.Context, hc *http.Client, opts WebOptions, query string) ([]searchResult, error) {
	u := strings.TrimRight(opts.SearXNGURL, "/") + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	var results []searchResult
	for _, r := range out.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// NewWebFetchTool retrieves a page and returns its text content.
func NewWebFetchTool(opts WebOptions) *Tool {
	opts = opts.defaults()
	hc := &http.Client{Timeout: opts.Timeout}

	return &Tool{
		name:        "web_fetch",
		description: "Fetch a web page and return its text content with HTML markup removed.",
		capability:  CapWeb,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch (http or https)",
				},
			},
			"required": []string{"url"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			rawURL := argString(args, "url")
			if rawURL == "" {
				return failure("web_fetch", ErrTypeInvalidParams, "url is required")
			}
			parsed, err := url.Parse(rawURL)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				return failure("web_fetch", ErrTypeInvalidParams, "url must be http or https")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return failure("web_fetch", ErrTypeInvalidParams, err.Error())
			}
			req.Header.Set("User-Agent", "codeclaw/1.0")

			resp, err := hc.Do(req)
			if err != nil {
				return failure("web_fetch", ErrTypeNetwork, err.Error())
			}
			defer resp.Body.Close() //nolint:errcheck
			if resp.StatusCode != http.StatusOK {
				return failure("web_fetch", ErrTypeNetwork, fmt.Sprintf("fetch returned %d", resp.StatusCode))
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
			if err != nil {
				return failure("web_fetch", ErrTypeNetwork, err.Error())
			}

			text := scriptPattern.ReplaceAllString(string(body), " ")
			text = stripTags(text)
			if len(text) > 100*1024 {
				text = text[:100*1024] + "\n... (truncated)"
			}
			return success("web_fetch", text)
		},
	}
}

// DefaultRegistry builds a registry with the full built-in tool set.
func DefaultRegistry(opts Options, web WebOptions, logger *slog.Logger) *Registry {
	reg := NewRegistry(logger)
	reg.Register(NewReadTool(opts))
	reg.Register(NewWriteTool(opts))
	reg.Register(NewEditTool(opts))
	reg.Register(NewGrepTool(opts))
	reg.Register(NewGlobTool(opts))
	reg.Register(NewBashTool(opts))
	reg.Register(NewWebSearchTool(web))
	reg.Register(NewWebFetchTool(web))
	return reg
}
