// Package identity resolves a caller's effective authority from the
// durable role, permission, and scope tables. Resolution happens once per
// mutation and is never cached across requests: revoking a role takes
// effect on the next call.
package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"bizforge.io/platform/internal/domain"
)

// Resolver loads ResolvedActor records.
type Resolver struct {
	pool *pgxpool.Pool
}

// NewResolver creates a Resolver on the shared pool.
func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve computes the actor's flattened permission list and scope
// assignments. The reserved system actor resolves without touching the
// role tables; its authority comes from the channel check in policy.
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID string) (domain.ResolvedActor, error) {
	actor := domain.ResolvedActor{TenantID: tenantID, UserID: userID}
	if userID == domain.SystemActorID {
		return actor, nil
	}

	roleIDs, err := r.roleIDs(ctx, tenantID, userID)
	if err != nil {
		return actor, err
	}
	actor.RoleIDs = roleIDs

	if len(roleIDs) > 0 {
		perms, err := r.permissions(ctx, roleIDs)
		if err != nil {
			return actor, err
		}
		actor.Permissions = perms
	}

	scopes, err := r.scopes(ctx, tenantID, userID)
	if err != nil {
		return actor, err
	}
	actor.Scopes = scopes

	return actor, nil
}

func (r *Resolver) roleIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id FROM user_roles WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Resolver) permissions(ctx context.Context, roleIDs []string) ([]domain.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT entity_type, verb, scope, field_rules
		 FROM role_permissions WHERE role_id = ANY($1)`,
		roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	defer rows.Close()

	var out []domain.Permission
	for rows.Next() {
		var (
			p     domain.Permission
			scope string
			rules []byte
		)
		if err := rows.Scan(&p.EntityType, &p.Verb, &scope, &rules); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		p.Scope = domain.Scope(scope)
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &p.FieldRules); err != nil {
				return nil, fmt.Errorf("decode field rules: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Resolver) scopes(ctx context.Context, tenantID, userID string) ([]domain.ScopeAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT scope_type, scope_id FROM user_scopes WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("load scopes for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.ScopeAssignment
	for rows.Next() {
		var s domain.ScopeAssignment
		if err := rows.Scan(&s.ScopeType, &s.ScopeID); err != nil {
			return nil, fmt.Errorf("scan scope assignment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
