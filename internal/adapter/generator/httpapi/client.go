package httpapi

import (
	"bytes"
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

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port"
)

const maxErrorBody = 64 << 10

var rateLimitCodes = map[string]bool{
	"limit_reached":   true,
	"quota_exhausted": true,
}

// Client talks JSON to the ALT-text backend. It generates text and reports
// what the host knows about an entity.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

type generateRequest struct {
	EntityID   int64  `json:"entity_id"`
	Source     string `json:"source"`
	RetryCount int    `json:"retry_count"`
}

type generateResponse struct {
	AltText string `json:"alt_text"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse generator url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("generator url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{baseURL: u, token: token, http: httpClient}, nil
}

func (c *Client) Generate(ctx context.Context, entityID int64, source string, retryCount int) (string, error) {
	body, err := json.Marshal(generateRequest{EntityID: entityID, Source: source, RetryCount: retryCount})
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &domain.GenerateError{Kind: domain.KindOther, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classify(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.GenerateError{Kind: domain.KindOther, Message: "decode generate response", Err: err}
	}
	text := strings.TrimSpace(out.AltText)
	if text == "" {
		return "", domain.NewGenerateError(domain.KindOther, "backend returned empty alt text")
	}
	return text, nil
}

// Inspect reports an unknown entity as not existing rather than as an error.
func (c *Client) Inspect(ctx context.Context, entityID int64) (domain.Entity, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/entities/"+strconv.FormatInt(entityID, 10), nil)
	if err != nil {
		return domain.Entity{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("inspect entity %d: %w", entityID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Entity{ID: entityID}, nil
	default:
		return domain.Entity{}, fmt.Errorf("inspect entity %d: %w", entityID, classify(resp))
	}

	var entity domain.Entity
	if err := json.NewDecoder(resp.Body).Decode(&entity); err != nil {
		return domain.Entity{}, fmt.Errorf("decode entity %d: %w", entityID, err)
	}
	entity.ID = entityID
	return entity, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// classify maps a non-200 response to a GenerateError kind.
func classify(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		body.Message = strings.TrimSpace(string(data))
	}

	msg := body.Message
	if msg == "" {
		msg = resp.Status
	}

	kind := domain.KindOther
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusPaymentRequired,
		rateLimitCodes[body.Code]:
		kind = domain.KindRateLimited
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		kind = domain.KindNotEligible
	}

	return &domain.GenerateError{
		Kind:    kind,
		Message: msg,
		Err:     errors.New(resp.Status),
	}
}

var (
	_ port.Generator       = (*Client)(nil)
	_ port.EntityInspector = (*Client)(nil)
)
