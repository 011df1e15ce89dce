package cache

// SchemaVersion tags the on-disk layout. A cached database written by a
// different version is discarded and rebuilt cold rather than migrated.
const SchemaVersion = "1"

// schema contains the SQL statements to create the snapshot database schema.
const schema = `
-- Entities table
CREATE TABLE IF NOT EXISTS entities (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    qualified_name TEXT NOT NULL,
    kind           TEXT NOT NULL,
    file           TEXT NOT NULL,
    start_line     INTEGER NOT NULL,
    start_col      INTEGER NOT NULL,
    end_line       INTEGER NOT NULL,
    end_col        INTEGER NOT NULL,
    visibility     TEXT NOT NULL,
    language       TEXT,
    meta_json      TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

-- Edges table; no uniqueness constraint: distinct call sites between the
-- same pair are distinct rows.
CREATE TABLE IF NOT EXISTS edges (
    source          TEXT NOT NULL,
    target          TEXT NOT NULL,
    kind            TEXT NOT NULL,
    site_file       TEXT,
    site_line       INTEGER,
    resolution      TEXT NOT NULL,
    target_name     TEXT,
    candidates_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);

-- File records table
CREATE TABLE IF NOT EXISTS file_records (
    path             TEXT PRIMARY KEY,
    fingerprint      TEXT NOT NULL,
    language         TEXT,
    status           TEXT NOT NULL,
    entity_ids_json  TEXT,
    analyzed_at      TEXT
);

-- Metadata table for snapshot info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
