// ════════════════════════════════════════════════════════════════════════════════════════════════
// Handshake Journal
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: SQLite ledger of completed opening handshakes
//
// Description:
//   The reactor appends one Record per connection that reaches Connected. Appends only touch
//   memory; Flush writes everything pending in a single transaction and is called once per loop
//   iteration, so disk latency is paid at most once per wait.
//
//   Client nonces are never stored. Each is reduced to a BLAKE2b-256 fingerprint, which is
//   enough to spot clients that reuse a nonce across connections.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"wsreactor/constants"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

const schema = `
CREATE TABLE IF NOT EXISTS handshakes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	token      INTEGER NOT NULL,
	remote     TEXT    NOT NULL,
	target     TEXT    NOT NULL,
	nonce_hash TEXT    NOT NULL,
	accept     TEXT    NOT NULL,
	at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_handshakes_nonce ON handshakes(nonce_hash);
`

// Record describes one completed handshake.
type Record struct {
	Token  uint64
	Remote string
	Target string
	Nonce  string // fingerprinted on Flush, never persisted
	Accept string
	At     time.Time
}

// Journal buffers Records and persists them to SQLite.
type Journal struct {
	db      *sql.DB
	pending []Record
	limit   int
	dropped uint64
}

// Open opens (or creates) the database at path and ensures the schema.
// ":memory:" is accepted for throwaway journals.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db, limit: constants.JournalBacklog}, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of nonce.
func Fingerprint(nonce string) string {
	sum := blake2b.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// Append queues r for the next Flush. A full queue drops r.
func (j *Journal) Append(r Record) {
	if len(j.pending) >= j.limit {
		j.dropped++
		return
	}
	j.pending = append(j.pending, r)
}

// Dropped returns how many records were discarded on a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped }

// Pending returns the number of queued records.
func (j *Journal) Pending() int { return len(j.pending) }

// Flush writes all queued records in one transaction. On failure the
// records stay queued and the next Flush retries them.
func (j *Journal) Flush() error {
	if len(j.pending) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO handshakes (token, remote, target, nonce_hash, accept, at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range j.pending {
		if _, err := stmt.Exec(int64(r.Token), r.Remote, r.Target, Fingerprint(r.Nonce), r.Accept, r.At.UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	j.pending = j.pending[:0]
	return nil
}

// Count returns the number of persisted handshakes.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handshakes`).Scan(&n)
	return n, err
}

// Reused returns nonce fingerprints seen on more than one connection.
func (j *Journal) Reused(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT nonce_hash
		FROM handshakes
		GROUP BY nonce_hash
		HAVING COUNT(*) > 1
		ORDER BY nonce_hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Recent returns up to limit persisted records, newest first. Nonce is empty
// in the result; only its fingerprint was stored.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT token, remote, target, accept, at
		FROM handshakes
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			token int64
			at    int64
		)
		if err := rows.Scan(&token, &r.Remote, &r.Target, &r.Accept, &at); err != nil {
			return nil, err
		}
		r.Token = uint64(token)
		r.At = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes what is pending and closes the database.
func (j *Journal) Close() error {
	ferr := j.Flush()
	if err := j.db.Close(); err != nil {
		return err
	}
	return ferr
}
