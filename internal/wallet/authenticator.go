package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentgate/internal/chain"
	xerrors "agentgate/internal/errors"
	"agentgate/pkg/logger"
)

// Authorization failures surfaced to the router.
var (
	// ErrProofInvalid means the chain rejected the signed transaction for a
	// reason other than duplication or expiry.
	ErrProofInvalid = errors.New("identity proof rejected by chain")
	// ErrProofExpired means the proof's transaction deadline passed; the
	// caller should sign a fresh one.
	ErrProofExpired = errors.New("identity proof expired, please sign again")
	// ErrOwnershipMismatch means the signature is chain-valid but the signer
	// is not the account that owns this agent.
	ErrOwnershipMismatch = errors.New("signer does not own this agent")
)

// Signer identifies the signing account and permission level.
type Signer struct {
	Actor      string `json:"actor"`
	Permission string `json:"permission"`
}

// Proof is the client-signed, zero-effect identity-assertion transaction. It
// is never persisted.
type Proof struct {
	Signer      Signer   `json:"signer"`
	Transaction string   `json:"transaction"`
	Signatures  []string `json:"signatures"`
	ChainID     string   `json:"chainId"`
}

// Grant is the successful outcome of an authorization.
type Grant struct {
	Actor      string
	Permission string
	Token      string
	ExpiresAt  time.Time
}

// TransactionPusher is the chain surface the authenticator needs.
type TransactionPusher interface {
	PushTransaction(ctx context.Context, tx chain.SignedTransaction) error
}

// Authenticator verifies wallet proofs by delegating signature verification
// to the chain and issues stateless session tokens on success.
type Authenticator struct {
	pusher TransactionPusher
	log    interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// NewAuthenticator constructs the authenticator around a chain client.
func NewAuthenticator(pusher TransactionPusher) *Authenticator {
	return &Authenticator{pusher: pusher, log: logger.Named("wallet")}
}

// Authorize pushes the proof's exact signed transaction to the chain and, on
// a valid proof, binds the signer to the configured owner account before
// issuing a token. Three push outcomes count as proof-valid: acceptance, and
// a duplicate-transaction rejection (an identical proof was already accepted,
// e.g. a client retry). Signature validity alone is never sufficient — the
// ownership check is mandatory.
func (a *Authenticator) Authorize(ctx context.Context, proof Proof, ownerAccount, gatewaySecret string) (*Grant, error) {
	actor := strings.TrimSpace(proof.Signer.Actor)
	if actor == "" || len(proof.Signatures) == 0 || proof.Transaction == "" {
		return nil, ErrProofInvalid
	}

	tx := chain.SignedTransaction{
		Signatures: proof.Signatures,
		PackedTrx:  proof.Transaction,
	}
	err := a.pusher.PushTransaction(ctx, tx)
	switch {
	case err == nil:
		// Chain accepted the no-op transaction; the signature is valid.
	case errors.Is(err, chain.ErrDuplicateTransaction):
		a.log.Info("duplicate identity proof accepted", "actor", actor)
	case errors.Is(err, chain.ErrExpiredTransaction):
		return nil, ErrProofExpired
	case xerrors.CodeOf(err) == xerrors.CodeChainUnavailable:
		return nil, err
	default:
		a.log.Warn("identity proof rejected", "actor", actor, "error", err)
		return nil, ErrProofInvalid
	}

	if actor != strings.TrimSpace(ownerAccount) {
		a.log.Warn("ownership mismatch", "actor", actor)
		return nil, ErrOwnershipMismatch
	}

	permission := strings.TrimSpace(proof.Signer.Permission)
	if permission == "" {
		permission = "active"
	}

	token, claims, err := NewTokenManager(gatewaySecret).Issue(actor, permission)
	if err != nil {
		return nil, err
	}
	return &Grant{
		Actor:      actor,
		Permission: permission,
		Token:      token,
		ExpiresAt:  time.Unix(claims.ExpiresAt, 0),
	}, nil
}

// Validate verifies a previously issued token against the tenant's secret.
func (a *Authenticator) Validate(token, gatewaySecret string) (*Claims, error) {
	return NewTokenManager(gatewaySecret).Verify(token)
}
