// Package gateway owns the backend process lifecycle: assembling the process
// environment, starting the agent gateway inside a sandbox, reaping zombie
// processes and deduplicating concurrent startup attempts per sandbox.
package gateway
