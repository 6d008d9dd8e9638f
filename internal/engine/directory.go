package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"issuehub/internal/domain"
	"issuehub/internal/engine/auth"
	"issuehub/internal/repo"
)

func (e Engine) requireCentralAdmin(ctx context.Context, actorID, op string) (domain.Actor, error) {
	actor, err := e.Repo.GetActor(ctx, actorID)
	if err != nil {
		return actor, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if !actor.Active || actor.Role != domain.RoleCentralAdmin {
		return actor, &auth.ForbiddenError{ActorID: actorID, Op: auth.Operation(op), Reason: "central admin role required"}
	}
	return actor, nil
}

func (e Engine) CreateSpace(ctx context.Context, actorID, id, name string) (domain.Space, error) {
	admin, err := e.requireCentralAdmin(ctx, actorID, "create_space")
	if err != nil {
		return domain.Space{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Space{}, invalidInput("space name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := domain.Space{ID: id, OrgID: admin.OrgID, Name: name, CreatedAt: e.nowString()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSpace(ctx, tx, s); err != nil {
		if repo.IsUniqueViolation(err) {
			return s, invalidInput("space %s already exists", id)
		}
		return s, err
	}
	return s, tx.Commit()
}

type ActorOptions struct {
	ID   string
	Name string
	Role string
}

// CreateActor adds a member to the admin's organization.
func (e Engine) CreateActor(ctx context.Context, actorID string, opts ActorOptions) (domain.Actor, error) {
	admin, err := e.requireCentralAdmin(ctx, actorID, "create_actor")
	if err != nil {
		return domain.Actor{}, err
	}
	if !domain.ValidRole(opts.Role) {
		return domain.Actor{}, invalidInput("unknown role %q", opts.Role)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	a := domain.Actor{ID: opts.ID, OrgID: admin.OrgID, Name: strings.TrimSpace(opts.Name), Role: opts.Role, Active: true, CreatedAt: e.nowString()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			return a, invalidInput("actor %s already exists", a.ID)
		}
		return a, err
	}
	return a, tx.Commit()
}

// SetActorActive enables or disables a member.
func (e Engine) SetActorActive(ctx context.Context, actorID, targetID string, active bool) (domain.Actor, error) {
	admin, err := e.requireCentralAdmin(ctx, actorID, "update_actor")
	if err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetActorTx(ctx, tx, targetID)
	if err != nil {
		return a, err
	}
	if a.OrgID != admin.OrgID {
		return a, repo.ErrNotFound
	}
	a.Active = active
	if err := e.Repo.UpdateActor(ctx, tx, a); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// AssignSpaceAdmin grants a space admin authority over a space.
func (e Engine) AssignSpaceAdmin(ctx context.Context, actorID, spaceID, targetID string) error {
	admin, err := e.requireCentralAdmin(ctx, actorID, "assign_space_admin")
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	space, err := e.Repo.GetSpaceTx(ctx, tx, spaceID)
	if err != nil {
		return fmt.Errorf("space %s: %w", spaceID, err)
	}
	target, err := e.Repo.GetActorTx(ctx, tx, targetID)
	if err != nil {
		return fmt.Errorf("actor %s: %w", targetID, err)
	}
	if space.OrgID != admin.OrgID || target.OrgID != admin.OrgID {
		return invalidInput("space and actor must belong to %s", admin.OrgID)
	}
	if target.Role != domain.RoleSpaceAdmin {
		return invalidInput("actor %s is %s, not a space admin", targetID, target.Role)
	}
	if err := e.Repo.AssignSpaceAdmin(ctx, tx, spaceID, targetID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeSpaceAdmin(ctx context.Context, actorID, spaceID, targetID string) error {
	if _, err := e.requireCentralAdmin(ctx, actorID, "revoke_space_admin"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeSpaceAdmin(ctx, tx, spaceID, targetID); err != nil {
		return err
	}
	return tx.Commit()
}

// RegisterDeviceToken stores the push token of the calling actor. An empty
// token unregisters the device.
func (e Engine) RegisterDeviceToken(ctx context.Context, actorID, token string) error {
	err := e.Repo.SetDeviceToken(ctx, actorID, token)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("actor %s: %w", actorID, err)
	}
	return err
}
