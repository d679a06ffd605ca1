// Package search queries the DuckDuckGo instant-answer API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result limits.
const (
	DefaultMaxResults = 8
	MaxResults        = 10
)

// DefaultBaseURL is the DuckDuckGo API endpoint.
const DefaultBaseURL = "https://api.duckduckgo.com/"

// Answer is a direct factual answer.
type Answer struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Result is one web result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is what the web_search tool returns to the model.
type Response struct {
	Status         string   `json:"status"`
	Query          string   `json:"query,omitempty"`
	InstantAnswers []Answer `json:"instant_answers,omitempty"`
	Results        []Result `json:"results,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Client calls the search API.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// New creates a search client. A nil httpClient uses a client with a 15s
// timeout.
func New(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		http:    httpClient,
		baseURL: DefaultBaseURL,
		logger:  logger.With("component", "search"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clamp bounds a requested result count to [1, MaxResults].
func Clamp(n int) int {
	return max(1, min(n, MaxResults))
}

type apiTopic struct {
	FirstURL string     `json:"FirstURL"`
	Text     string     `json:"Text"`
	Name     string     `json:"Name"`
	Topics   []apiTopic `json:"Topics"`
}

type apiResponse struct {
	Answer        string     `json:"Answer"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Definition    string     `json:"Definition"`
	DefinitionURL string     `json:"DefinitionURL"`
	Results       []apiTopic `json:"Results"`
	RelatedTopics []apiTopic `json:"RelatedTopics"`
}

// Search runs query and returns at most maxResults web results. Failures are
// reported in the response, not as an error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) Response {
	maxResults = Clamp(maxResults)

	raw, err := c.fetch(ctx, query)
	if err != nil {
		c.logger.Error("search failed", "query", query, "error", err)
		return Response{Status: "error", Error: err.Error()}
	}

	resp := Response{
		Status:         "success",
		Query:          query,
		InstantAnswers: []Answer{},
		Results:        []Result{},
	}

	if raw.Answer != "" {
		resp.InstantAnswers = append(resp.InstantAnswers, Answer{Text: raw.Answer})
	}
	if raw.AbstractText != "" {
		resp.InstantAnswers = append(resp.InstantAnswers, Answer{Text: raw.AbstractText, URL: raw.AbstractURL})
	}
	if raw.Definition != "" {
		resp.InstantAnswers = append(resp.InstantAnswers, Answer{Text: raw.Definition, URL: raw.DefinitionURL})
	}

	for _, t := range flatten(append(raw.Results, raw.RelatedTopics...)) {
		if len(resp.Results) == maxResults {
			break
		}
		resp.Results = append(resp.Results, Result{Title: title(t.Text), URL: t.FirstURL, Snippet: t.Text})
	}

	c.logger.Debug("search completed",
		"query", query,
		"answers", len(resp.InstantAnswers),
		"results", len(resp.Results),
	)
	return resp
}

func (c *Client) fetch(ctx context.Context, query string) (*apiResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying search API: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", res.StatusCode)
	}

	var raw apiResponse
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &raw, nil
}

// flatten expands topic groups into their member topics.
func flatten(topics []apiTopic) []apiTopic {
	var out []apiTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flatten(t.Topics)...)
			continue
		}
		if t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}

// title is the part of a topic text before the first " - ".
func title(text string) string {
	if before, _, found := strings.Cut(text, " - "); found {
		return before
	}
	return text
}
