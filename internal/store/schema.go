package store

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    hostname TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_seq INTEGER NOT NULL,
    pid INTEGER NOT NULL,
    ppid INTEGER NOT NULL,
    name TEXT NOT NULL CHECK (length(name) BETWEEN 1 AND 255),
    cpu_percent REAL,
    memory_rss INTEGER,
    memory_percent REAL,
    FOREIGN KEY (snapshot_seq) REFERENCES snapshots(seq) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_snapshots_host_created ON snapshots(hostname, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at, seq);
CREATE INDEX IF NOT EXISTS idx_processes_snapshot_pid ON processes(snapshot_seq, pid);
CREATE INDEX IF NOT EXISTS idx_processes_snapshot_ppid ON processes(snapshot_seq, ppid);
`
