package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/kotilabs/housing-backend/pkg/config"
)

func TestNewClientValidatesKeyAgainstEnv(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "test key in test env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}},
		{name: "live key in test env", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, wantErr: true},
		{name: "restricted live key", cfg: config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, wantErr: true},
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec_1"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.RequestTimeout = time.Second
			_, err := NewClient(ctx, tc.cfg, nil)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestClientAccessors(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:         "sk_test_abc",
		PublishableKey: " pk_test_abc ",
		Secret:         "whsec_platform",
		AccountSecret:  "whsec_account",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected default test env, got %q", client.Environment())
	}
	if client.SigningSecret() != "whsec_platform" || client.AccountSigningSecret() != "whsec_account" {
		t.Fatal("unexpected signing secrets")
	}
	if client.PublishableKey() != "pk_test_abc" {
		t.Fatalf("expected trimmed publishable key, got %q", client.PublishableKey())
	}

	var nilClient *Client
	if nilClient.SigningSecret() != "" || nilClient.PublishableKey() != "" {
		t.Fatal("nil client accessors should be empty")
	}
}
