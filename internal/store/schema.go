package store

// Schema mirrors the persisted state layout: one row per order, an
// append-only event log with a unique (order_id, sequence) index, the
// correspondence map keyed by leader id, and the bracket leg graph.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    role              TEXT NOT NULL CHECK (role IN ('leader', 'follower')),
    status            TEXT NOT NULL,
    side              TEXT NOT NULL,
    product           TEXT NOT NULL,
    kind              TEXT NOT NULL,
    validity          TEXT NOT NULL,
    security_id       TEXT NOT NULL,
    exchange_segment  TEXT NOT NULL,
    quantity          INTEGER NOT NULL,
    disclosed_qty     INTEGER NOT NULL DEFAULT 0,
    price             TEXT NOT NULL DEFAULT '0',
    trigger_price     TEXT NOT NULL DEFAULT '0',
    filled_qty        INTEGER NOT NULL DEFAULT 0,
    remaining_qty     INTEGER NOT NULL DEFAULT 0,
    avg_price         TEXT NOT NULL DEFAULT '0',
    exchange_order_id TEXT,
    exchange_time     INTEGER,
    trading_symbol    TEXT,
    algo_id           TEXT,
    correlation_id    TEXT,
    drv_expiry        INTEGER,
    drv_option_type   TEXT,
    drv_strike_price  TEXT,
    oms_error_code    TEXT,
    oms_error_desc    TEXT,
    co_stop_loss      TEXT,
    co_trigger        TEXT,
    bo_profit         TEXT,
    bo_stop_loss      TEXT,
    parent_order_id   TEXT,
    leg_type          TEXT,
    after_market      INTEGER NOT NULL DEFAULT 0,
    amo_time          TEXT,
    sliced            INTEGER NOT NULL DEFAULT 0,
    slice_group_id    TEXT,
    slice_index       INTEGER,
    total_slice_qty   INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    completed_at      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_orders_role_status ON orders(role, status);
CREATE INDEX IF NOT EXISTS idx_orders_slice_group ON orders(slice_group_id);

CREATE TABLE IF NOT EXISTS order_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT NOT NULL,
    sequence  INTEGER NOT NULL,
    kind      TEXT NOT NULL,
    payload   TEXT,
    ts        INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_order_events_order_seq
    ON order_events(order_id, sequence);

CREATE TABLE IF NOT EXISTS copy_mappings (
    leader_order_id   TEXT PRIMARY KEY,
    follower_order_id TEXT UNIQUE,
    leader_qty        INTEGER NOT NULL,
    follower_qty      INTEGER NOT NULL,
    sizing_strategy   TEXT,
    capital_ratio     TEXT,
    status            TEXT NOT NULL CHECK (status IN ('pending', 'placed', 'failed', 'cancelled')),
    error_kind        TEXT,
    error_message     TEXT,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bracket_order_legs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    -- Leg and parent ids come from broker order updates and the follower
    -- order book, which may be seen before the orders themselves are
    -- journaled; no FK into orders.
    parent_order_id TEXT NOT NULL,
    leg_order_id    TEXT NOT NULL UNIQUE,
    leg_type        TEXT NOT NULL CHECK (leg_type IN ('ENTRY', 'TARGET', 'SL')),
    role            TEXT NOT NULL CHECK (role IN ('leader', 'follower')),
    status          TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bracket_legs_parent ON bracket_order_legs(parent_order_id);

CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    order_id          TEXT NOT NULL,
    role              TEXT NOT NULL,
    exchange_order_id TEXT,
    exchange_trade_id TEXT,
    security_id       TEXT NOT NULL,
    exchange_segment  TEXT NOT NULL,
    side              TEXT NOT NULL,
    product           TEXT NOT NULL,
    kind              TEXT NOT NULL,
    quantity          INTEGER NOT NULL,
    price             TEXT NOT NULL,
    trade_ts          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);

CREATE TABLE IF NOT EXISTS positions (
    role             TEXT NOT NULL,
    security_id      TEXT NOT NULL,
    exchange_segment TEXT NOT NULL,
    quantity         INTEGER NOT NULL,
    avg_price        TEXT NOT NULL DEFAULT '0',
    updated_at       INTEGER NOT NULL,
    PRIMARY KEY (role, security_id, exchange_segment)
);

CREATE TABLE IF NOT EXISTS funds (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    role         TEXT NOT NULL,
    available    TEXT NOT NULL,
    utilized     TEXT,
    collateral   TEXT,
    captured_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instruments (
    security_id      TEXT NOT NULL,
    exchange_segment TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    name             TEXT,
    instrument_type  TEXT,
    lot_size         INTEGER NOT NULL DEFAULT 1,
    tick_size        TEXT,
    freeze_qty       INTEGER NOT NULL DEFAULT 0,
    expiry_date      TEXT,
    strike_price     TEXT,
    option_type      TEXT,
    underlying_id    TEXT,
    updated_at       INTEGER NOT NULL,
    PRIMARY KEY (security_id, exchange_segment)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    action      TEXT NOT NULL,
    role        TEXT NOT NULL,
    request     TEXT,
    response    TEXT,
    status      TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    ts          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
