package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentgate/internal/config"
	xerrors "agentgate/internal/errors"
)

func pushNode(t *testing.T, status int, rejectionCode int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chain/get_info":
			json.NewEncoder(w).Encode(Info{ChainID: "abc", HeadBlockNum: 42})
		case "/v1/chain/push_transaction":
			w.WriteHeader(status)
			if status >= 400 {
				json.NewEncoder(w).Encode(map[string]any{
					"code": status,
					"error": map[string]any{
						"code": rejectionCode,
						"name": "assert_exception",
						"what": "assertion failure",
					},
				})
				return
			}
			fmt.Fprint(w, `{"transaction_id":"abc"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(Config{Name: "test", RPCURL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPushTransactionAccepted(t *testing.T) {
	node := pushNode(t, http.StatusAccepted, 0)
	defer node.Close()

	err := newTestClient(t, node.URL).PushTransaction(context.Background(), SignedTransaction{
		Signatures: []string{"SIG_K1_abc"},
		PackedTrx:  "deadbeef",
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestPushTransactionClassifiesRejections(t *testing.T) {
	cases := []struct {
		name          string
		rejectionCode int64
		want          error
	}{
		{"duplicate", 3040008, ErrDuplicateTransaction},
		{"expired", 3040005, ErrExpiredTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := pushNode(t, http.StatusInternalServerError, tc.rejectionCode)
			defer node.Close()

			err := newTestClient(t, node.URL).PushTransaction(context.Background(), SignedTransaction{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPushTransactionOtherRejectionIsVerbatim(t *testing.T) {
	node := pushNode(t, http.StatusInternalServerError, 3090003)
	defer node.Close()

	err := newTestClient(t, node.URL).PushTransaction(context.Background(), SignedTransaction{})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if errors.Is(err, ErrDuplicateTransaction) || errors.Is(err, ErrExpiredTransaction) {
		t.Fatalf("unrelated rejection misclassified: %v", err)
	}
}

func TestPushTransactionUnreachableNode(t *testing.T) {
	err := newTestClient(t, "http://127.0.0.1:1").PushTransaction(context.Background(), SignedTransaction{})
	if xerrors.CodeOf(err) != xerrors.CodeChainUnavailable {
		t.Fatalf("expected CodeChainUnavailable, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	node := pushNode(t, http.StatusAccepted, 0)
	defer node.Close()

	info, err := newTestClient(t, node.URL).Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.ChainID != "abc" || info.HeadBlockNum != 42 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestRegistryDefaultSelection(t *testing.T) {
	registry, err := NewRegistry(config.ChainConfig{RPCURL: "http://127.0.0.1:8888"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	client, err := registry.DefaultClient()
	if err != nil {
		t.Fatalf("default client: %v", err)
	}
	if client.Name() != "default" {
		t.Fatalf("unexpected default network %q", client.Name())
	}
	if got := registry.Networks(); len(got) != 1 || got[0] != "default" {
		t.Fatalf("unexpected networks: %v", got)
	}
}
