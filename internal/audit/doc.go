// Package audit keeps a journal of operator actions taken through the
// HTTP API: devices registered or removed and messages published.
//
// Entries live in the audit_logs table. Inbound broker traffic is not
// journalled; it is counted by the bridge and ingest statistics instead.
package audit
