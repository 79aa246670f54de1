package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/smallnest/agentgraphgo/llm"
)

const (
	readWebsiteMaxLen = 15000
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// BraveClient queries the Brave Search API for web and news results.
type BraveClient struct {
	APIKey     string
	BaseURL    string
	NewsURL    string
	Count      int
	Country    string
	Lang       string
	HTTPClient *http.Client
}

type BraveOption func(*BraveClient)

// WithBraveBaseURL overrides the web search endpoint.
func WithBraveBaseURL(baseURL string) BraveOption {
	return func(b *BraveClient) {
		b.BaseURL = baseURL
	}
}

// WithBraveNewsURL overrides the news search endpoint.
func WithBraveNewsURL(newsURL string) BraveOption {
	return func(b *BraveClient) {
		b.NewsURL = newsURL
	}
}

// WithBraveCount sets the default number of results (1-20).
func WithBraveCount(count int) BraveOption {
	return func(b *BraveClient) {
		if count < 1 {
			count = 1
		}
		if count > 20 {
			count = 20
		}
		b.Count = count
	}
}

// WithBraveCountry sets the country code for search results (e.g. "US").
func WithBraveCountry(country string) BraveOption {
	return func(b *BraveClient) {
		b.Country = country
	}
}

// WithBraveLang sets the language code for search results (e.g. "en").
func WithBraveLang(lang string) BraveOption {
	return func(b *BraveClient) {
		b.Lang = lang
	}
}

// NewBraveClient creates a search client. If apiKey is empty, it reads
// BRAVE_API_KEY from the environment.
func NewBraveClient(apiKey string, opts ...BraveOption) (*BraveClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("BRAVE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("BRAVE_API_KEY not set")
	}

	b := &BraveClient{
		APIKey:     apiKey,
		BaseURL:    "https://api.search.brave.com/res/v1/web/search",
		NewsURL:    "https://api.search.brave.com/res/v1/news/search",
		Count:      10,
		Country:    "US",
		Lang:       "en",
		HTTPClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

func (b *BraveClient) query(ctx context.Context, endpoint, q string, count int) ([]byte, error) {
	if count <= 0 {
		count = b.Count
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("count", fmt.Sprintf("%d", count))
	if b.Country != "" {
		params.Set("country", b.Country)
	}
	if b.Lang != "" {
		params.Set("search_lang", b.Lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave api returned status: %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return raw, nil
}

func formatBraveResults(results []braveResult) string {
	if len(results) == 0 {
		return "No results found"
	}
	var sb strings.Builder
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. Title: %s\nURL: %s\nDescription: %s\n", i+1, r.Title, r.URL, r.Description))
		if r.Age != "" {
			sb.WriteString("Published: " + r.Age + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Search runs a web search and returns formatted results.
func (b *BraveClient) Search(ctx context.Context, q string, count int) (string, error) {
	raw, err := b.query(ctx, b.BaseURL, q, count)
	if err != nil {
		return "", err
	}
	var payload struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return formatBraveResults(payload.Web.Results), nil
}

// SearchNews runs a news search and returns formatted results.
func (b *BraveClient) SearchNews(ctx context.Context, q string, count int) (string, error) {
	raw, err := b.query(ctx, b.NewsURL, q, count)
	if err != nil {
		return "", err
	}
	var payload struct {
		Results []braveResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return formatBraveResults(payload.Results), nil
}

// ReadWebsite fetches a URL and extracts its readable text: boilerplate
// elements dropped, residual markup sanitised, whitespace collapsed, long
// pages truncated.
func ReadWebsite(ctx context.Context, client *http.Client, pageURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to retrieve page %s: HTTP %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	doc.Find("script, style, nav, footer, header").Remove()

	text := bluemonday.StrictPolicy().Sanitize(doc.Find("body").Text())
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > readWebsiteMaxLen {
		text = text[:readWebsiteMaxLen] + "\n\n[Content truncated - page too long]"
	}
	return text, nil
}

func (r *Registry) readWebsite() *Definition {
	return &Definition{
		Name: "read_website",
		Description: "Retrieve the text content of a website for analysis. " +
			"Use this to read the full content of a specific URL.",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"url": {Type: "string", Description: "The URL of the website to read."},
			},
			Required: []string{"url"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			return ReadWebsite(ctx, r.httpClient, stringArg(args, "url"))
		},
	}
}

func searchParams() llm.Parameters {
	return llm.Parameters{
		Type: "object",
		Properties: map[string]llm.Property{
			"query":       {Type: "string", Description: "The search query string."},
			"max_results": {Type: "integer", Description: "Maximum number of results to return (1-25)."},
		},
		Required: []string{"query"},
	}
}

func (r *Registry) searchWeb() *Definition {
	return &Definition{
		Name: "search_web",
		Description: "Search the web for information on any topic. " +
			"Returns a list of search results with titles, URLs, and snippets.",
		Parameters: searchParams(),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			if r.search == nil {
				return "", fmt.Errorf("no search backend configured")
			}
			return r.search.Search(ctx, stringArg(args, "query"), intArg(args, "max_results", 10))
		},
	}
}

func (r *Registry) searchNews() *Definition {
	return &Definition{
		Name: "search_news",
		Description: "Search for recent news articles. " +
			"Use this for current events and recent developments.",
		Parameters: searchParams(),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			if r.search == nil {
				return "", fmt.Errorf("no search backend configured")
			}
			return r.search.SearchNews(ctx, stringArg(args, "query"), intArg(args, "max_results", 10))
		},
	}
}
