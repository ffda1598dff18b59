package database

// Schema is the single source of truth for the durable substrate. One file
// holds every logical table; all timestamps are ISO-8601 UTC strings and all
// calendar dates are YYYY-MM-DD.
const Schema = `
CREATE TABLE IF NOT EXISTS historical_moves (
    ticker            TEXT NOT NULL,
    earnings_date     TEXT NOT NULL,
    prev_close        REAL NOT NULL DEFAULT 0,
    reaction_open     REAL NOT NULL DEFAULT 0,
    reaction_high     REAL NOT NULL DEFAULT 0,
    reaction_low      REAL NOT NULL DEFAULT 0,
    reaction_close    REAL NOT NULL DEFAULT 0,
    gap_move_pct      REAL NOT NULL DEFAULT 0,
    intraday_move_pct REAL NOT NULL DEFAULT 0,
    close_move_pct    REAL NOT NULL DEFAULT 0,
    volume_before     INTEGER NOT NULL DEFAULT 0,
    volume_reaction   INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL,
    PRIMARY KEY (ticker, earnings_date)
);

CREATE INDEX IF NOT EXISTS idx_historical_moves_ticker
    ON historical_moves(ticker);

CREATE TABLE IF NOT EXISTS earnings_calendar (
    ticker      TEXT NOT NULL,
    report_date TEXT NOT NULL,
    timing      TEXT NOT NULL DEFAULT 'UNKNOWN',
    confirmed   INTEGER NOT NULL DEFAULT 0,
    source_id   TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (ticker, report_date)
);

CREATE INDEX IF NOT EXISTS idx_earnings_calendar_date
    ON earnings_calendar(report_date);

CREATE TABLE IF NOT EXISTS sentiment_history (
    ticker             TEXT NOT NULL,
    earnings_date      TEXT NOT NULL,
    collected_at       TEXT NOT NULL,
    source             TEXT NOT NULL,
    text               TEXT NOT NULL DEFAULT '',
    score              REAL,
    direction          TEXT NOT NULL DEFAULT 'unknown',
    vrp_ratio          REAL,
    implied_move_pct   REAL,
    actual_move_pct    REAL,
    actual_direction   TEXT,
    prediction_correct INTEGER,
    trade_outcome      TEXT,
    PRIMARY KEY (ticker, earnings_date)
);

CREATE INDEX IF NOT EXISTS idx_sentiment_history_date
    ON sentiment_history(earnings_date);

CREATE TABLE IF NOT EXISTS iv_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker           TEXT NOT NULL,
    observed_at      TEXT NOT NULL,
    expiration       TEXT NOT NULL DEFAULT '',
    atm_strike       REAL NOT NULL DEFAULT 0,
    straddle_cost    REAL NOT NULL DEFAULT 0,
    implied_move_pct REAL NOT NULL DEFAULT 0,
    underlying_price REAL NOT NULL DEFAULT 0,
    source           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_iv_log_ticker_observed
    ON iv_log(ticker, observed_at);

CREATE TABLE IF NOT EXISTS cache (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    inserted_at TEXT NOT NULL,
    expires_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at
    ON cache(expires_at);

CREATE TABLE IF NOT EXISTS api_budget (
    date         TEXT PRIMARY KEY,
    calls        INTEGER NOT NULL DEFAULT 0,
    cost         REAL NOT NULL DEFAULT 0,
    last_updated TEXT NOT NULL
);
`
