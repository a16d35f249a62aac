package domain

import (
	"testing"
	"time"
)

func TestTokenDetailsState(t *testing.T) {
	now := utc(2025, time.June, 6, 12, 0)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		tokens      *TokenDetails
		credentials bool
		refresh     bool
	}{
		{name: "nil", tokens: nil},
		{name: "empty", tokens: &TokenDetails{}},
		{name: "fresh access", tokens: &TokenDetails{AccessToken: "a", ExpiryDate: &future}, credentials: true},
		{name: "no expiry", tokens: &TokenDetails{AccessToken: "a"}, credentials: true},
		{name: "expired", tokens: &TokenDetails{AccessToken: "a", RefreshToken: "r", ExpiryDate: &past}, credentials: true, refresh: true},
		{name: "refresh only", tokens: &TokenDetails{RefreshToken: "r"}, credentials: true, refresh: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tokens.HasCredentials(); got != tt.credentials {
				t.Fatalf("HasCredentials() = %v, want %v", got, tt.credentials)
			}
			if got := tt.tokens.NeedsRefresh(now); got != tt.refresh {
				t.Fatalf("NeedsRefresh() = %v, want %v", got, tt.refresh)
			}
		})
	}
}

func TestScheduledPostClone(t *testing.T) {
	at := utc(2025, time.June, 6, 10, 0)
	orig := ScheduledPost{
		ScheduledFor: &at,
		RepeatDays:   []Weekday{Monday},
		TokenDetails: &TokenDetails{AccessToken: "a", Scopes: []string{"x"}},
	}
	cp := orig.Clone()
	*cp.ScheduledFor = at.Add(time.Hour)
	cp.RepeatDays[0] = Friday
	cp.TokenDetails.Scopes[0] = "y"
	if !orig.ScheduledFor.Equal(at) || orig.RepeatDays[0] != Monday || orig.TokenDetails.Scopes[0] != "x" {
		t.Fatalf("копия не должна разделять память с оригиналом: %+v", orig)
	}
}
