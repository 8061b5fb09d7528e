package agentgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorizeStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/authorize" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var proof Proof
		if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
			t.Fatalf("decode proof: %v", err)
		}
		if proof.Signer.Actor != "alice.agent" {
			t.Fatalf("unexpected actor %q", proof.Signer.Actor)
		}
		json.NewEncoder(w).Encode(Grant{
			Success:    true,
			Actor:      proof.Signer.Actor,
			Permission: "active",
			Token:      "issued-token",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	grant, err := client.Authorize(context.Background(), Proof{
		Signer:      Signer{Actor: "alice.agent", Permission: "active"},
		Transaction: "deadbeef",
		Signatures:  []string{"SIG_K1_abc"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !grant.Success || grant.Token != "issued-token" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if client.SessionToken() != "issued-token" {
		t.Fatalf("token not stored, got %q", client.SessionToken())
	}
}

func TestValidateSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(Validation{Valid: true, Actor: "alice.agent"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetSessionToken("abc")
	result, err := client.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.Actor != "alice.agent" {
		t.Fatalf("unexpected validation: %+v", result)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "CONFIG_INCOMPLETE",
				"message": "the gateway is missing required configuration",
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Health(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Code != "CONFIG_INCOMPLETE" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
