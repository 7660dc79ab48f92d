package store

// CacheSchema is the SQL schema for the structures.db raw-text cache.
// Deposited structures are immutable, so rows never expire; fetched_at
// and last_used drive nothing but diagnostics and manual pruning.
const CacheSchema = `
CREATE TABLE IF NOT EXISTS structures (
    source      TEXT NOT NULL,
    accession   TEXT NOT NULL,
    raw         TEXT NOT NULL,
    fetched_at  TEXT NOT NULL DEFAULT (datetime('now')),
    last_used   TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (source, accession)
);
`
