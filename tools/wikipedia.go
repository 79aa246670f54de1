package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallnest/agentgraphgo/llm"
)

const defaultWikipediaAPI = "https://en.wikipedia.org/w/api.php"

// wikipediaSearch calls the MediaWiki opensearch endpoint and returns the
// matching page titles.
func wikipediaSearch(ctx context.Context, client *http.Client, baseURL, query string, limit int) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("action", "opensearch")
	params.Set("search", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia api returned status: %d", resp.StatusCode)
	}

	// Opensearch responds with [query, [titles], [descriptions], [urls]].
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("unexpected opensearch response shape")
	}
	var titles []string
	if err := json.Unmarshal(payload[1], &titles); err != nil {
		return nil, fmt.Errorf("failed to decode titles: %w", err)
	}
	return titles, nil
}

// wikipediaSummary calls the MediaWiki extracts endpoint and returns the
// plain-text intro of the best matching page.
func wikipediaSummary(ctx context.Context, client *http.Client, baseURL, title string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("titles", title)
	params.Set("redirects", "1")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wikipedia summary failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wikipedia api returned status: %d", resp.StatusCode)
	}

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	for _, page := range payload.Query.Pages {
		if extract := strings.TrimSpace(page.Extract); extract != "" {
			return extract, nil
		}
	}
	return "", fmt.Errorf("no summary found for %q", title)
}

func (r *Registry) searchWikipedia() *Definition {
	return &Definition{
		Name:        "search_wikipedia",
		Description: "Do a Wikipedia search for query",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"query":   {Type: "string", Description: "the search query"},
				"results": {Type: "integer", Description: "the maximum number of results returned"},
			},
			Required: []string{"query"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			titles, err := wikipediaSearch(ctx, r.httpClient, r.wikipediaAPI, stringArg(args, "query"), intArg(args, "results", 10))
			if err != nil {
				return "", err
			}
			if len(titles) == 0 {
				return "No results found.", nil
			}
			return jsonResult(titles), nil
		},
	}
}

func (r *Registry) wikipediaSummaryTool() *Definition {
	return &Definition{
		Name:        "wikipedia_summary",
		Description: "Get a plain text summary of a Wikipedia page.",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {Type: "string", Description: "the search query"},
			},
			Required: []string{"query"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			return wikipediaSummary(ctx, r.httpClient, r.wikipediaAPI, stringArg(args, "query"))
		},
	}
}
