package storage

// Schema contains the DDL for all tables used by the context manager.
// Apply it with your migration tooling of choice; every statement is
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS ctxpg_contexts (
    session_id            TEXT PRIMARY KEY,
    user_id               TEXT NOT NULL,
    project_id            TEXT NOT NULL DEFAULT '',
    total_tokens          INTEGER NOT NULL DEFAULT 0,
    max_tokens            INTEGER NOT NULL,
    protected_message_ids TEXT[] NOT NULL DEFAULT '{}',
    last_compaction_at    TIMESTAMPTZ,
    compaction_count      INTEGER NOT NULL DEFAULT 0,
    model                 TEXT NOT NULL,
    settings              JSONB NOT NULL DEFAULT '{}',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ctxpg_messages (
    id                   TEXT PRIMARY KEY,
    session_id           TEXT NOT NULL REFERENCES ctxpg_contexts(session_id) ON DELETE CASCADE,
    role                 TEXT NOT NULL,
    content              TEXT NOT NULL,
    token_count          INTEGER NOT NULL DEFAULT 0,
    is_protected         BOOLEAN NOT NULL DEFAULT FALSE,
    is_summary           BOOLEAN NOT NULL DEFAULT FALSE,
    original_message_ids TEXT[],
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ctxpg_messages_session_created
    ON ctxpg_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS ctxpg_compaction_results (
    id                 TEXT PRIMARY KEY,
    session_id         TEXT NOT NULL,
    trigger            TEXT NOT NULL,
    pre_tokens         INTEGER NOT NULL,
    post_tokens        INTEGER NOT NULL,
    reduction_percent  DOUBLE PRECISION NOT NULL,
    messages_condensed INTEGER NOT NULL,
    summary_preview    TEXT NOT NULL DEFAULT '',
    duration_ms        BIGINT NOT NULL DEFAULT 0,
    estimated_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
    model_used         TEXT,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ctxpg_compaction_results_session
    ON ctxpg_compaction_results (session_id, created_at);

CREATE TABLE IF NOT EXISTS ctxpg_checkpoints (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL,
    label             TEXT NOT NULL DEFAULT '',
    trigger           TEXT NOT NULL,
    messages_snapshot JSONB NOT NULL,
    token_count       INTEGER NOT NULL DEFAULT 0,
    auto_tags         TEXT[] NOT NULL DEFAULT '{}',
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ctxpg_checkpoints_session_created
    ON ctxpg_checkpoints (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_ctxpg_checkpoints_expires
    ON ctxpg_checkpoints (expires_at);

CREATE TABLE IF NOT EXISTS ctxpg_session_memories (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    project_id      TEXT NOT NULL DEFAULT '',
    session_id      TEXT NOT NULL,
    summary         TEXT NOT NULL,
    key_decisions   JSONB NOT NULL DEFAULT '[]',
    code_references JSONB NOT NULL DEFAULT '[]',
    tags            TEXT[] NOT NULL DEFAULT '{}',
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding       REAL[],
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ctxpg_session_memories_project
    ON ctxpg_session_memories (project_id, created_at);

CREATE INDEX IF NOT EXISTS idx_ctxpg_session_memories_expires
    ON ctxpg_session_memories (expires_at);

CREATE TABLE IF NOT EXISTS ctxpg_leaders (
    name       TEXT PRIMARY KEY,
    leader_id  TEXT NOT NULL,
    elected_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`
