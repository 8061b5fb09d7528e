// Package tenant resolves inbound hostnames to tenant ids and loads the
// per-tenant configuration records that drive multi-tenant request handling.
// Resolution is purely syntactic; records live in a pluggable store keyed by
// tenant id.
package tenant
