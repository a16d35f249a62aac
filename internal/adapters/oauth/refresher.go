package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// Config — параметры OAuth клиента Google.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TokenURL переопределяет endpoint Google, пусто — google.Endpoint.
	TokenURL string
}

// Refresher обменивает refresh token на новый access token.
type Refresher struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

var _ domain.TokenRefresher = (*Refresher)(nil)

var errNoRefreshToken = errors.New("refresh token is missing")

// NewRefresher создаёт Refresher.
func NewRefresher(cfg Config) *Refresher {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &Refresher{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
	}
}

// SetHTTPClient подменяет HTTP клиент для обращений к token endpoint.
func (r *Refresher) SetHTTPClient(httpClient *http.Client) {
	r.httpClient = httpClient
}

// Refresh возвращает новый снимок доступа. Refresh token сохраняется, если сервер не выдал новый.
// Любая ошибка возвращается как *domain.CredentialError.
func (r *Refresher) Refresh(ctx context.Context, current domain.TokenDetails) (domain.TokenDetails, error) {
	if strings.TrimSpace(current.RefreshToken) == "" {
		metrics.IncTokenRefresh(errNoRefreshToken)
		return domain.TokenDetails{}, &domain.CredentialError{Err: errNoRefreshToken}
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// access token не передаём: без него TokenSource сразу идёт за новым.
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	start := time.Now()
	tok, err := src.Token()
	metrics.ObserveNetworkRequest("oauth", "refresh_token", "google", start, err)
	metrics.IncTokenRefresh(err)
	if err != nil {
		return domain.TokenDetails{}, &domain.CredentialError{Err: err}
	}

	next := domain.TokenDetails{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		next.ExpiryDate = domain.TimePtr(tok.Expiry)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		next.Scopes = strings.Fields(scope)
	}
	return next, nil
}
