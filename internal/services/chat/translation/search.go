package translation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxSearchSnippets caps how many snippets a search returns.
const MaxSearchSnippets = 3

// DefaultSearchURL is the Google Custom Search JSON endpoint.
const DefaultSearchURL = "https://www.googleapis.com/customsearch/v1"

// apiKeyHeader carries the Custom Search key so it never appears in URLs,
// which transport errors echo back.
const apiKeyHeader = "X-Goog-Api-Key"

// ErrNoResults reports a search that found nothing usable.
var ErrNoResults = errors.New("no results")

// Searcher runs a web search and returns short text snippets.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// GoogleSearchConfig configures the Custom Search client.
type GoogleSearchConfig struct {
	APIKey     string
	EngineID   string
	URL        string
	HTTPClient *http.Client
}

// GoogleSearch queries the Google Custom Search JSON API.
type GoogleSearch struct {
	cfg GoogleSearchConfig
}

// NewGoogleSearch builds a Custom Search client.
func NewGoogleSearch(cfg GoogleSearchConfig) (*GoogleSearch, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.EngineID) == "" {
		return nil, errors.New("search api key and engine id are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultSearchURL
	}
	return &GoogleSearch{cfg: cfg}, nil
}

// Search returns up to MaxSearchSnippets snippets for query.
func (s *GoogleSearch) Search(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("cx", s.cfg.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(MaxSearchSnippets))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, s.cfg.APIKey)
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", redactKey(err, s.cfg.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := gjson.GetBytes(body, "error.message").String()
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, strings.ReplaceAll(message, s.cfg.APIKey, "REDACTED"))
	}

	var snippets []string
	for _, item := range gjson.GetBytes(body, "items.#.snippet").Array() {
		snippet := strings.Join(strings.Fields(item.String()), " ")
		if snippet == "" {
			continue
		}
		snippets = append(snippets, snippet)
		if len(snippets) == MaxSearchSnippets {
			break
		}
	}
	if len(snippets) == 0 {
		return nil, ErrNoResults
	}
	return snippets, nil
}

// redactKey scrubs key from err. A configured URL may still embed
// credentials of its own, so the request URL is dropped from *url.Error.
func redactKey(err error, key string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s %s: %w", urlErr.Op, redactedURL(urlErr.URL), urlErr.Err)
	}
	if key != "" && strings.Contains(err.Error(), key) {
		return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
	}
	return err
}

func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "search endpoint"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
