package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"issuehub/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint or
// unique index rejecting a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertSpace(ctx context.Context, tx *sql.Tx, s domain.Space) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO spaces(id,org_id,name,created_at) VALUES (?,?,?,?)`, s.ID, s.OrgID, s.Name, s.CreatedAt)
	return err
}

func (r Repo) GetSpace(ctx context.Context, id string) (domain.Space, error) {
	return getSpace(ctx, r.DB, id)
}

func (r Repo) GetSpaceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Space, error) {
	return getSpace(ctx, tx, id)
}

func getSpace(ctx context.Context, q querier, id string) (domain.Space, error) {
	var s domain.Space
	err := q.QueryRowContext(ctx, `SELECT id,org_id,name,created_at FROM spaces WHERE id=?`, id).Scan(&s.ID, &s.OrgID, &s.Name, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSpaces(ctx context.Context, orgID string) ([]domain.Space, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,created_at FROM spaces WHERE org_id=? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Space
	for rows.Next() {
		var s domain.Space
		if err := rows.Scan(&s.ID, &s.OrgID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id,org_id,name,role,active,fcm_token,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, nullable(a.Name), a.Role, boolInt(a.Active), nullableStringPtr(a.FCMToken), a.CreatedAt)
	return err
}

func (r Repo) UpdateActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET name=?, role=?, active=?, fcm_token=? WHERE id=?`,
		nullable(a.Name), a.Role, boolInt(a.Active), nullableStringPtr(a.FCMToken), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return getActor(ctx, r.DB, id)
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return getActor(ctx, tx, id)
}

const actorColumns = `id,org_id,COALESCE(name,''),role,active,fcm_token,created_at`

func scanActor(scan func(dest ...any) error) (domain.Actor, error) {
	var a domain.Actor
	var active int
	var token sql.NullString
	if err := scan(&a.ID, &a.OrgID, &a.Name, &a.Role, &active, &token, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Active = active == 1
	if token.Valid && token.String != "" {
		a.FCMToken = &token.String
	}
	return a, nil
}

func getActor(ctx context.Context, q querier, id string) (domain.Actor, error) {
	a, err := scanActor(q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.SpaceIDs, err = adminSpaces(ctx, q, a.ID)
	return a, err
}

type ActorFilters struct {
	OrgID string
	Role  string
}

func (r Repo) ListActors(ctx context.Context, f ActorFilters) ([]domain.Actor, error) {
	return listActors(ctx, r.DB, f)
}

func (r Repo) ListActorsTx(ctx context.Context, tx *sql.Tx, f ActorFilters) ([]domain.Actor, error) {
	return listActors(ctx, tx, f)
}

func listActors(ctx context.Context, q querier, f ActorFilters) ([]domain.Actor, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := q.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetDeviceToken stores the push token of an actor; an empty token clears it.
func (r Repo) SetDeviceToken(ctx context.Context, actorID, token string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET fcm_token=? WHERE id=?`, nullable(strings.TrimSpace(token)), actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearDeviceTokens removes push tokens the messaging backend reported as invalid.
func (r Repo) ClearDeviceTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(tokens))
	args := make([]any, len(tokens))
	for i, t := range tokens {
		placeholders[i] = "?"
		args[i] = t
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE actors SET fcm_token=NULL WHERE fcm_token IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
