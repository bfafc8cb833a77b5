package store

// schema is the full relational schema. Every statement is idempotent so the
// migrate command can run on each deploy.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id            UUID PRIMARY KEY,
    org_id        BIGINT NOT NULL,
    filename      TEXT NOT NULL,
    file_type     TEXT NOT NULL,
    size_bytes    BIGINT NOT NULL,
    storage_key   TEXT NOT NULL,
    uploaded_by   BIGINT NOT NULL,
    uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    status        TEXT NOT NULL DEFAULT 'pending',
    metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
    is_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_org
    ON documents (org_id, uploaded_at DESC) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_documents_deleted
    ON documents (deleted_at) WHERE is_deleted;

CREATE TABLE IF NOT EXISTS chunks (
    id            UUID PRIMARY KEY,
    document_id   UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index   INT NOT NULL,
    text          TEXT NOT NULL,
    token_count   INT NOT NULL DEFAULT 0,
    embedding_key TEXT NOT NULL,
    metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
    UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS classifications (
    document_id     UUID PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    org_id          BIGINT NOT NULL,
    team            TEXT NOT NULL DEFAULT 'General',
    project         TEXT NOT NULL DEFAULT 'none',
    doc_type        TEXT NOT NULL DEFAULT 'other',
    time_period     TEXT NOT NULL DEFAULT 'ongoing',
    confidentiality TEXT NOT NULL DEFAULT 'internal',
    people          JSONB NOT NULL DEFAULT '[]'::jsonb,
    tags            JSONB NOT NULL DEFAULT '[]'::jsonb,
    summary         TEXT NOT NULL DEFAULT '',
    confidence      JSONB NOT NULL DEFAULT '{}'::jsonb,
    classified_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_class_org_team    ON classifications (org_id, team);
CREATE INDEX IF NOT EXISTS idx_class_org_project ON classifications (org_id, project);
CREATE INDEX IF NOT EXISTS idx_class_org_type    ON classifications (org_id, doc_type);
CREATE INDEX IF NOT EXISTS idx_class_org_period  ON classifications (org_id, time_period);
CREATE INDEX IF NOT EXISTS idx_class_people_gin  ON classifications USING GIN (people);
CREATE INDEX IF NOT EXISTS idx_class_tags_gin    ON classifications USING GIN (tags);

CREATE TABLE IF NOT EXISTS conversations (
    id              UUID PRIMARY KEY,
    org_id          BIGINT NOT NULL,
    user_id         BIGINT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_message_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    archived        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_conversations_user
    ON conversations (org_id, user_id, last_message_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    reasoning       JSONB,
    sources         JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS jobs (
    id           UUID PRIMARY KEY,
    org_id       BIGINT NOT NULL,
    type         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'queued',
    progress     INT NOT NULL DEFAULT 0,
    result       JSONB,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_org_status ON jobs (org_id, status);

CREATE TABLE IF NOT EXISTS usage_daily (
    org_id         BIGINT NOT NULL,
    day            DATE NOT NULL,
    tokens         BIGINT NOT NULL DEFAULT 0,
    api_calls      BIGINT NOT NULL DEFAULT 0,
    estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (org_id, day)
);

CREATE TABLE IF NOT EXISTS employee_profiles (
    user_id     BIGINT NOT NULL,
    org_id      BIGINT NOT NULL,
    name        TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    email       TEXT NOT NULL DEFAULT '',
    specialties TEXT NOT NULL DEFAULT '',
    skills      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS employee_embeddings (
    user_id          BIGINT NOT NULL,
    org_id           BIGINT NOT NULL,
    vector_id        TEXT NOT NULL,
    profile_snapshot TEXT NOT NULL,
    last_updated     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (org_id, user_id)
);
`
