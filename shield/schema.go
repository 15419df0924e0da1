package shield

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/kseo/dbopen"
)

// DefaultMaintenanceMessage is returned with the 503 when none was set.
const DefaultMaintenanceMessage = "kseo is under maintenance, retry shortly."

// Schema is the maintenance flag: one row, id = 1, updated_at in unix ms.
const Schema = `
CREATE TABLE IF NOT EXISTS maintenance (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    active     INTEGER NOT NULL DEFAULT 0,
    message    TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO maintenance (id, active, message, updated_at) VALUES (1, 0, '', 0);
`

// Init creates the maintenance table.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// SetMaintenance turns maintenance on or off. An empty message keeps the
// stored one. Servers see the change on their next reload.
func SetMaintenance(ctx context.Context, db *sql.DB, active bool, message string) error {
	v := 0
	if active {
		v = 1
	}
	now := time.Now().UnixMilli()
	if message == "" {
		_, err := dbopen.Exec(ctx, db,
			`UPDATE maintenance SET active = ?, updated_at = ? WHERE id = 1`, v, now)
		return err
	}
	_, err := dbopen.Exec(ctx, db,
		`UPDATE maintenance SET active = ?, message = ?, updated_at = ? WHERE id = 1`, v, message, now)
	return err
}
