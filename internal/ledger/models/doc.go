// Package models defines the records held in a ledger payload: entries,
// versioned entry types, templates with their versions and default mappings,
// compositions and store metadata, together with the write-time size limits.
package models
