package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/engine"
)

const (
	apiBase    = "https://api.notion.com/v1"
	apiVersion = "2022-06-28"

	// Notion rejects block-append payloads with more than 100 children.
	maxBlocksPerAppend = 100
)

// PropertyBindings names the database properties this deployment uses.
// Supplied at construction time; the client never probes the schema.
type PropertyBindings struct {
	Title    string `yaml:"title"`
	Business string `yaml:"business"`
	Category string `yaml:"category"`
	Status   string `yaml:"status"`
}

func (p PropertyBindings) withDefaults() PropertyBindings {
	if p.Title == "" {
		p.Title = "Name"
	}
	if p.Business == "" {
		p.Business = "Business"
	}
	if p.Category == "" {
		p.Category = "Category"
	}
	if p.Status == "" {
		p.Status = "Status"
	}
	return p
}

// Client implements engine.Workspace against one Notion database.
type Client struct {
	apiKey     string
	databaseID string
	props      PropertyBindings
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

var _ engine.Workspace = (*Client)(nil)

// NewClient creates a workspace client for one research database.
func NewClient(apiKey, databaseID string, props PropertyBindings, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		apiKey:     apiKey,
		databaseID: databaseID,
		props:      props.withDefaults(),
		baseURL:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("notion"),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// IsConfigured returns whether the client has credentials and a database.
func (c *Client) IsConfigured() bool { return c.apiKey != "" && c.databaseID != "" }

// FindArtifact queries the database by business name and category. Returns
// (nil, nil) on a clean miss so callers can decide to create.
func (c *Client) FindArtifact(ctx context.Context, businessName, category string) (*engine.Page, error) {
	payload := map[string]interface{}{
		"page_size": 1,
		"filter": map[string]interface{}{
			"and": []map[string]interface{}{
				{
					"property":  c.props.Business,
					"rich_text": map[string]string{"equals": businessName},
				},
				{
					"property": c.props.Category,
					"select":   map[string]string{"equals": category},
				},
			},
		},
	}

	var result struct {
		Results []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/databases/"+c.databaseID+"/query", payload, &result); err != nil {
		return nil, eris.Wrap(err, "notion: query database")
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return &engine.Page{ID: result.Results[0].ID, URL: result.Results[0].URL}, nil
}

// CreateArtifact inserts a new database row with pending status and a
// placeholder body.
func (c *Client) CreateArtifact(ctx context.Context, businessName, title, category string) (*engine.Page, error) {
	payload := map[string]interface{}{
		"parent": map[string]string{"database_id": c.databaseID},
		"properties": map[string]interface{}{
			c.props.Title: map[string]interface{}{
				"title": []map[string]interface{}{
					{"text": map[string]string{"content": fmt.Sprintf("%s - %s", businessName, title)}},
				},
			},
			c.props.Business: map[string]interface{}{
				"rich_text": []map[string]interface{}{
					{"text": map[string]string{"content": businessName}},
				},
			},
			c.props.Category: map[string]interface{}{
				"select": map[string]string{"name": category},
			},
			c.props.Status: map[string]interface{}{
				"select": map[string]string{"name": string(engine.StatusPending)},
			},
		},
		"children": markdownToBlocks("Research in progress. Content will appear here when the analysis completes."),
	}

	var result struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/pages", payload, &result); err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return &engine.Page{ID: result.ID, URL: result.URL}, nil
}

// UpdateStatus sets the status select on a page.
func (c *Client) UpdateStatus(ctx context.Context, pageID string, status engine.ArtifactStatus) error {
	payload := map[string]interface{}{
		"properties": map[string]interface{}{
			c.props.Status: map[string]interface{}{
				"select": map[string]string{"name": string(status)},
			},
		},
	}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, payload, nil); err != nil {
		return eris.Wrap(err, "notion: update status")
	}
	return nil
}

// UpdateContent appends the rendered markdown to the page body. Blocks are
// chunked to stay under the API's per-request child limit.
func (c *Client) UpdateContent(ctx context.Context, pageID, text string) error {
	blocks := markdownToBlocks(text)
	for start := 0; start < len(blocks); start += maxBlocksPerAppend {
		end := start + maxBlocksPerAppend
		if end > len(blocks) {
			end = len(blocks)
		}
		payload := map[string]interface{}{"children": blocks[start:end]}
		if err := c.do(ctx, http.MethodPatch, "/blocks/"+pageID+"/children", payload, nil); err != nil {
			return eris.Wrap(err, "notion: append content")
		}
	}
	return nil
}

// URLFor derives a canonical page URL from a page ID.
func (c *Client) URLFor(pageID string) string {
	if pageID == engine.PageUnresolved {
		return ""
	}
	return "https://www.notion.so/" + strings.ReplaceAll(pageID, "-", "")
}

// Ping verifies credentials and database access.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConfigured() {
		return eris.New("notion: NOTION_API_KEY or database id not set")
	}
	if err := c.do(ctx, http.MethodGet, "/databases/"+c.databaseID, nil, nil); err != nil {
		return eris.Wrap(err, "notion: ping")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if !c.IsConfigured() {
		return eris.New("notion: client not configured")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "marshal payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return eris.Wrap(err, "parse response")
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func markdownToBlocks(content string) []map[string]interface{} {
	var blocks []map[string]interface{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "# "):
			blocks = append(blocks, textBlock("heading_1", strings.TrimPrefix(line, "# ")))
		case strings.HasPrefix(line, "## "):
			blocks = append(blocks, textBlock("heading_2", strings.TrimPrefix(line, "## ")))
		case strings.HasPrefix(line, "### "):
			blocks = append(blocks, textBlock("heading_3", strings.TrimPrefix(line, "### ")))
		case strings.HasPrefix(line, "- "):
			blocks = append(blocks, textBlock("bulleted_list_item", strings.TrimPrefix(line, "- ")))
		case strings.HasPrefix(line, "> "):
			blocks = append(blocks, textBlock("quote", strings.TrimPrefix(line, "> ")))
		default:
			blocks = append(blocks, textBlock("paragraph", line))
		}
	}
	return blocks
}

func textBlock(blockType, text string) map[string]interface{} {
	// Notion caps a rich_text content string at 2000 characters.
	if len(text) > 2000 {
		text = text[:2000]
	}
	return map[string]interface{}{
		"object": "block",
		"type":   blockType,
		blockType: map[string]interface{}{
			"rich_text": []map[string]interface{}{
				{
					"type": "text",
					"text": map[string]string{"content": text},
				},
			},
		},
	}
}
