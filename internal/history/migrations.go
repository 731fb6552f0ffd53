package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    job_id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    worker_count INTEGER NOT NULL,
    failed_workers INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    job_dir TEXT NOT NULL,
    aggregate_path TEXT,
    fix_path TEXT,
    phase TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES runs(job_id),
    timestamp TIMESTAMP NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_job_id ON run_events(job_id);
`
