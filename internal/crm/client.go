package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/verdict/internal/faults"
)

// Config describes how to reach the CRM API.
type Config struct {
	BaseURL    string
	APIKey     string
	Version    string
	LocationID string
	Timeout    time.Duration
	RatePerSec float64
}

// Client is a thin wrapper over the CRM conversations and contacts endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	version    string
	locationID string
	client     *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		version:    cfg.Version,
		locationID: cfg.LocationID,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

type errorResponse struct {
	Message    any    `json:"message"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// FetchMessages returns the raw messages payload for a conversation. The
// payload shape varies and is resolved by the conversation package.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) (json.RawMessage, error) {
	return c.get(ctx, "fetch conversation messages", "/conversations/"+url.PathEscape(conversationID)+"/messages", nil)
}

// GetContact returns the raw contact payload, either wrapped in "contact" or flat.
func (c *Client) GetContact(ctx context.Context, contactID string) (json.RawMessage, error) {
	return c.get(ctx, "fetch contact", "/contacts/"+url.PathEscape(contactID), nil)
}

// SearchParams filters a conversation search.
type SearchParams struct {
	Limit     int
	Page      int
	ContactID string
}

type searchResponse struct {
	Conversations []struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	} `json:"conversations"`
	Total int `json:"total"`
}

// SearchConversations lists recent conversation ids, skipping deleted ones
// and repeats, capped at Limit.
func (c *Client) SearchConversations(ctx context.Context, p SearchParams) ([]string, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("page", strconv.Itoa(p.Page))
	if c.locationID != "" {
		q.Set("locationId", c.locationID)
	}
	if p.ContactID != "" {
		q.Set("contactId", p.ContactID)
	}

	raw, err := c.get(ctx, "search conversations", "/conversations/search", q)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &faults.MalformedResponseError{Source: "conversation search", Payload: raw, Reason: err.Error()}
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(resp.Conversations))
	for _, conv := range resp.Conversations {
		if conv.Deleted || conv.ID == "" || seen[conv.ID] {
			continue
		}
		seen[conv.ID] = true
		ids = append(ids, conv.ID)
		if len(ids) == p.Limit {
			break
		}
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &faults.TransportError{Op: op, Err: err}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", c.version)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &faults.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &faults.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && (errResp.Message != nil || errResp.Error != "") {
			return nil, &faults.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("api error: %s %v", errResp.Error, errResp.Message)}
		}
		return nil, &faults.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	return json.RawMessage(body), nil
}
