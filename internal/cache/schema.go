package cache

// Schema contains SQL schema definitions for the local mail replica. The
// three tables are the on-disk compatibility contract; date and last_sync
// are stored as unix seconds, address lists, flags and headers as JSON.
const Schema = `
-- Emails table
CREATE TABLE IF NOT EXISTS emails (
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    uid INTEGER NOT NULL,
    message_id TEXT,
    subject TEXT,
    from_addrs TEXT,
    to_addrs TEXT,
    cc_addrs TEXT,
    bcc_addrs TEXT,
    date INTEGER NOT NULL,
    body_text TEXT,
    body_html TEXT,
    flags TEXT,
    headers TEXT,
    seen INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account, folder, uid)
);

-- Attachments table, rows live and die with their owning email
CREATE TABLE IF NOT EXISTS attachments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    email_uid INTEGER NOT NULL,
    filename TEXT NOT NULL,
    content_type TEXT,
    data BLOB,
    size INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (account, folder, email_uid)
        REFERENCES emails(account, folder, uid) ON DELETE CASCADE
);

-- Per-folder sync state
CREATE TABLE IF NOT EXISTS folder_metadata (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    last_uid INTEGER NOT NULL DEFAULT 0,
    total_messages INTEGER NOT NULL DEFAULT 0,
    last_sync INTEGER NOT NULL DEFAULT 0,
    UNIQUE(account, folder)
);

-- Create indexes for faster queries
CREATE INDEX IF NOT EXISTS idx_emails_account_folder ON emails(account, folder);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);
CREATE INDEX IF NOT EXISTS idx_attachments_email ON attachments(account, folder, email_uid);
`
