package gbp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://mybusiness.googleapis.com"
	defaultAppURL  = "https://your-website.com"
	maxErrorBody   = 2048
)

// Config описывает параметры клиента Google Business Profile.
type Config struct {
	BaseURL string
	// AppURL подставляется в кнопку LEARN_MORE.
	AppURL string
	// Timeout ноль означает отсутствие таймаута на уровне клиента.
	Timeout time.Duration
}

// Client публикует localPosts через API Google My Business v4.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.Publisher = (*Client)(nil)

// NewClient создаёт клиента.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AppURL == "" {
		cfg.AppURL = defaultAppURL
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// SetHTTPClient подменяет HTTP клиент.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

type callToAction struct {
	ActionType string `json:"actionType"`
	URL        string `json:"url"`
}

type localPost struct {
	LanguageCode string       `json:"languageCode"`
	Summary      string       `json:"summary"`
	CallToAction callToAction `json:"callToAction"`
	TopicType    string       `json:"topicType"`
}

// PublishLocalPost создаёт пост в профиле компании.
// Ответ не-2xx возвращается как *domain.PublishError.
func (c *Client) PublishLocalPost(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	if strings.TrimSpace(req.AccessToken) == "" {
		return domain.PublishResult{}, &domain.CredentialError{Err: domain.ErrCredentialsMissing}
	}
	body, err := json.Marshal(localPost{
		LanguageCode: "en-US",
		Summary:      req.Content,
		CallToAction: callToAction{ActionType: "LEARN_MORE", URL: c.cfg.AppURL},
		TopicType:    "STANDARD",
	})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := strings.TrimRight(c.cfg.BaseURL, "/")
	endpoint := fmt.Sprintf("%s/v4/accounts/%s/locations/%s/localPosts", baseURL, url.PathEscape(req.AccountID), url.PathEscape(req.LocationID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("gbp", "create_local_post", "localPosts", start, err)
		return domain.PublishResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("gbp", "create_local_post", "localPosts", start, err)
		return domain.PublishResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pubErr := &domain.PublishError{StatusCode: resp.StatusCode, Body: excerpt(data)}
		metrics.ObserveNetworkRequest("gbp", "create_local_post", "localPosts", start, pubErr)
		return domain.PublishResult{}, pubErr
	}
	metrics.ObserveNetworkRequest("gbp", "create_local_post", "localPosts", start, nil)

	var parsed struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(data, &parsed)
	return domain.PublishResult{Name: parsed.Name, Raw: json.RawMessage(data)}, nil
}

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
