package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"issuehub/internal/config"
	"issuehub/internal/domain"
	"issuehub/internal/repo"
)

// ResolveOrganization makes sure the organization named by cfg exists,
// creating it on first use, and returns it.
func ResolveOrganization(ctx context.Context, cfg *config.Config, r repo.Repo) (domain.Organization, error) {
	if cfg == nil || strings.TrimSpace(cfg.Organization.ID) == "" {
		return domain.Organization{}, errors.New("organization not configured; set organization.id in issuehub.yml")
	}
	org, err := r.GetOrg(ctx, cfg.Organization.ID)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return org, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return org, err
	}
	defer tx.Rollback()
	if err := r.EnsureOrg(ctx, tx, cfg.Organization.ID, cfg.Organization.Name, now); err != nil {
		return org, fmt.Errorf("ensure org: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return org, err
	}
	return r.GetOrg(ctx, cfg.Organization.ID)
}

// Bootstrap creates the organization and its first central admin. Running it
// again with the same admin id is a no-op.
func Bootstrap(ctx context.Context, cfg *config.Config, r repo.Repo, adminID, adminName string) (domain.Actor, error) {
	if strings.TrimSpace(adminID) == "" {
		return domain.Actor{}, errors.New("admin id required")
	}
	org, err := ResolveOrganization(ctx, cfg, r)
	if err != nil {
		return domain.Actor{}, err
	}
	existing, err := r.GetActor(ctx, adminID)
	if err == nil {
		if existing.OrgID != org.ID || existing.Role != domain.RoleCentralAdmin {
			return existing, fmt.Errorf("actor %s exists and is not a central admin of %s", adminID, org.ID)
		}
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, err
	}
	admin := domain.Actor{
		ID:        adminID,
		OrgID:     org.ID,
		Name:      adminName,
		Role:      domain.RoleCentralAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return admin, err
	}
	defer tx.Rollback()
	if err := r.InsertActor(ctx, tx, admin); err != nil {
		return admin, fmt.Errorf("insert admin: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return admin, err
	}
	return admin, nil
}
