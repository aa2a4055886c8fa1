// Package audit records every risk evaluation made by the session lifecycle.
//
// Entries are append-only and outlive the sessions they describe. Three
// backends are provided: in-memory (tests, single process), PostgreSQL
// (risk_log table) and SQLite for single-node deployments.
package audit
