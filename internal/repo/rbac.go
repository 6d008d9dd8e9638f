package repo

import (
	"context"
	"database/sql"
)

// AssignSpaceAdmin grants a space admin authority over a space.
func (r Repo) AssignSpaceAdmin(ctx context.Context, tx *sql.Tx, spaceID, actorID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO space_admins(space_id, actor_id) VALUES (?,?)`, spaceID, actorID)
	return err
}

func (r Repo) RevokeSpaceAdmin(ctx context.Context, tx *sql.Tx, spaceID, actorID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM space_admins WHERE space_id=? AND actor_id=?`, spaceID, actorID)
	return err
}

// SpaceAdminIDs lists the space admins with authority over a space.
func (r Repo) SpaceAdminIDs(ctx context.Context, tx *sql.Tx, spaceID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT actor_id FROM space_admins WHERE space_id=? ORDER BY actor_id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func adminSpaces(ctx context.Context, q querier, actorID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT space_id FROM space_admins WHERE actor_id=? ORDER BY space_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var spaces []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}
