package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrEmptyPage = errors.New("scraped page is empty")

// Scraper returns the readable content of a web page as markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// FirecrawlClient talks to a Firecrawl-compatible /v1/scrape endpoint.
type FirecrawlClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Data    scrapeData `json:"data"`
}

type scrapeData struct {
	Markdown string `json:"markdown"`
}

func NewFirecrawl(baseURL, apiKey string) *FirecrawlClient {
	return &FirecrawlClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
}

func (c *FirecrawlClient) Scrape(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/scrape", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("scrape api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode scrape response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("failed to scrape %s: %s", url, out.Error)
	}
	if strings.TrimSpace(out.Data.Markdown) == "" {
		return "", ErrEmptyPage
	}

	return out.Data.Markdown, nil
}
