package gbp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"review-hub/internal/domain"
)

func TestPublishLocalPost(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"accounts/a1/locations/l1/localPosts/42"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AppURL: "https://example.com"})
	res, err := client.PublishLocalPost(context.Background(), domain.PublishRequest{
		AccountID: "a1", LocationID: "l1", Content: "Скидки", AccessToken: "tok",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Name != "accounts/a1/locations/l1/localPosts/42" {
		t.Fatalf("неожиданный name: %q", res.Name)
	}
	if gotPath != "/v4/accounts/a1/locations/l1/localPosts" {
		t.Fatalf("неожиданный путь: %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("неожиданный Authorization: %s", gotAuth)
	}
	if gotBody["languageCode"] != "en-US" || gotBody["summary"] != "Скидки" || gotBody["topicType"] != "STANDARD" {
		t.Fatalf("неожиданное тело: %v", gotBody)
	}
	cta, _ := gotBody["callToAction"].(map[string]any)
	if cta["actionType"] != "LEARN_MORE" || cta["url"] != "https://example.com" {
		t.Fatalf("неожиданная кнопка: %v", cta)
	}
}

func TestPublishLocalPostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.PublishLocalPost(context.Background(), domain.PublishRequest{AccountID: "a", LocationID: "l", AccessToken: "tok"})
	var pubErr *domain.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("ожидали PublishError, получили %v", err)
	}
	if pubErr.StatusCode != http.StatusInternalServerError || pubErr.Body == "" {
		t.Fatalf("неожиданная ошибка: %+v", pubErr)
	}
}

func TestPublishLocalPostWithoutToken(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.PublishLocalPost(context.Background(), domain.PublishRequest{AccountID: "a", LocationID: "l"})
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) || !errors.Is(err, domain.ErrCredentialsMissing) {
		t.Fatalf("ожидали CredentialError, получили %v", err)
	}
}
