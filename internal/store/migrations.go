package store

const schema = `
CREATE TABLE IF NOT EXISTS apps (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    bundle_id   TEXT NOT NULL DEFAULT '',
    track_id    INTEGER UNIQUE,
    store_url   TEXT NOT NULL DEFAULT '',
    icon_url    TEXT NOT NULL DEFAULT '',
    seller_name TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS keywords (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword    TEXT NOT NULL,
    app_id     INTEGER REFERENCES apps(id) ON DELETE SET NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_keywords_keyword ON keywords(keyword);
CREATE INDEX IF NOT EXISTS idx_keywords_app ON keywords(app_id);

CREATE TABLE IF NOT EXISTS search_results (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword_id       INTEGER NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
    country          TEXT NOT NULL,
    popularity       INTEGER NOT NULL DEFAULT 0,
    difficulty       INTEGER NOT NULL DEFAULT 0,
    difficulty_label TEXT NOT NULL DEFAULT '',
    classification   TEXT NOT NULL DEFAULT '',
    opportunity      INTEGER NOT NULL DEFAULT 0,
    app_rank         INTEGER,
    competitor_count INTEGER NOT NULL DEFAULT 0,
    breakdown        TEXT NOT NULL DEFAULT '{}',
    competitors      TEXT NOT NULL DEFAULT '[]',
    search_date      TEXT NOT NULL,
    searched_at      DATETIME NOT NULL,
    UNIQUE(keyword_id, country, search_date)
);

CREATE INDEX IF NOT EXISTS idx_results_pair ON search_results(keyword_id, country, search_date);
CREATE INDEX IF NOT EXISTS idx_results_searched ON search_results(searched_at);
`
