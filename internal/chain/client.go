package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "agentgate/internal/errors"
)

// Chain-side assertion error codes we give distinct treatment to.
const (
	codeTxDuplicate = 3040008
	codeTxExpired   = 3040005
)

// Sentinel classifications for push failures.
var (
	// ErrDuplicateTransaction means an identical signed transaction was
	// already accepted by the chain. For identity proofs this is the
	// intended idempotency signal, not a failure.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrExpiredTransaction means the transaction's deadline passed before
	// the push; the caller should sign a fresh proof.
	ErrExpiredTransaction = errors.New("transaction expired")
)

// Config describes how to construct a chain client.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        string
	TimeoutSeconds int
}

// Client talks to a chain node's HTTP API. Signature verification is never
// reimplemented here: pushing the signed transaction delegates it to the
// chain, which understands every key scheme the account may use.
type Client struct {
	name    string
	rpcURL  string
	chainID string
	http    *http.Client
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	rpcURL := strings.TrimRight(strings.TrimSpace(cfg.RPCURL), "/")
	if rpcURL == "" {
		return nil, errors.New("chain rpc url must be configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return &Client{
		name:    cfg.Name,
		rpcURL:  rpcURL,
		chainID: cfg.ChainID,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// Name returns the configured network name.
func (c *Client) Name() string { return c.name }

// ChainID returns the configured chain id, which may be empty when the
// operator relies on get_info.
func (c *Client) ChainID() string { return c.chainID }

// Info is the subset of node metadata the gateway consumes.
type Info struct {
	ChainID      string `json:"chain_id"`
	HeadBlockNum uint64 `json:"head_block_num"`
}

// Info queries the node for chain metadata. This is an idempotent read and is
// safe to retry at call sites.
func (c *Client) Info(ctx context.Context) (Info, error) {
	resp, err := c.post(ctx, "/v1/chain/get_info", nil)
	if err != nil {
		return Info{}, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "chain get_info failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Info{}, xerrors.New(xerrors.CodeChainUnavailable,
			fmt.Sprintf("chain get_info returned %s", resp.Status))
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode get_info: %w", err)
	}
	return info, nil
}

// SignedTransaction is a packed transaction plus its signatures, exactly as
// produced by the client wallet.
type SignedTransaction struct {
	Signatures            []string `json:"signatures"`
	Compression           string   `json:"compression"`
	PackedContextFreeData string   `json:"packed_context_free_data"`
	PackedTrx             string   `json:"packed_trx"`
}

// pushError is the error envelope chain nodes wrap rejections in.
type pushError struct {
	Code  int `json:"code"`
	Error struct {
		Code int64  `json:"code"`
		Name string `json:"name"`
		What string `json:"what"`
	} `json:"error"`
}

// PushTransaction broadcasts the signed transaction. A nil error means the
// chain accepted it. Rejections are classified: duplicates map to
// ErrDuplicateTransaction, deadline failures to ErrExpiredTransaction, and
// everything else is returned verbatim. Pushes are state-changing and are
// never retried here.
func (c *Client) PushTransaction(ctx context.Context, tx SignedTransaction) error {
	if tx.Compression == "" {
		tx.Compression = "none"
	}
	resp, err := c.post(ctx, "/v1/chain/push_transaction", tx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "chain push failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16384))
	var rejection pushError
	if err := json.Unmarshal(body, &rejection); err == nil {
		switch rejection.Error.Code {
		case codeTxDuplicate:
			return ErrDuplicateTransaction
		case codeTxExpired:
			return ErrExpiredTransaction
		}
		if rejection.Error.What != "" {
			return fmt.Errorf("chain rejected transaction: %s (%s)", rejection.Error.What, rejection.Error.Name)
		}
	}
	return fmt.Errorf("chain rejected transaction: %s", resp.Status)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}
