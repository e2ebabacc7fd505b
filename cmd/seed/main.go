// Package main provides idempotent data seeding: schema bootstrap plus a
// demo tenant with built-in roles, permissions, and scope assignments.
// Intended for development environments; production identity data comes
// from provisioning.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"bizforge.io/platform/internal/config"
	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/infrastructure"
	"bizforge.io/platform/internal/pkg/logger"
)

const demoTenant = "demo"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	logger.Info("Starting data seeding...")

	if err := db.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := seedRoles(ctx, db.Pool); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	if err := seedUsers(ctx, db.Pool); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	logger.Info("Data seeding completed successfully")
	return nil
}

// builtInRole defines a role with its permission grants.
type builtInRole struct {
	ID          string
	Name        string
	Permissions []domain.Permission
}

var builtInRoles = []builtInRole{
	{
		ID:   "role-admin",
		Name: "tenant_admin",
		Permissions: []domain.Permission{
			{EntityType: domain.Wildcard, Verb: domain.Wildcard, Scope: domain.ScopeOrg},
		},
	},
	{
		ID:   "role-sales-clerk",
		Name: "sales_clerk",
		Permissions: []domain.Permission{
			{EntityType: "sales_order", Verb: "create", Scope: domain.ScopeCompany},
			{EntityType: "sales_order", Verb: "update", Scope: domain.ScopeSelf,
				FieldRules: domain.FieldRules{DenyWrite: []string{"customer_id"}}},
			{EntityType: "sales_order", Verb: "submit", Scope: domain.ScopeSelf},
			{EntityType: "customer", Verb: "update", Scope: domain.ScopeCompany},
		},
	},
	{
		ID:   "role-sales-manager",
		Name: "sales_manager",
		Permissions: []domain.Permission{
			{EntityType: "sales_order", Verb: domain.Wildcard, Scope: domain.ScopeCompany},
			{EntityType: "customer", Verb: domain.Wildcard, Scope: domain.ScopeCompany},
		},
	},
}

func seedRoles(ctx context.Context, pool *pgxpool.Pool) error {
	for _, role := range builtInRoles {
		if _, err := pool.Exec(ctx, `
			INSERT INTO roles (id, tenant_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			role.ID, demoTenant, role.Name); err != nil {
			return fmt.Errorf("insert role %s: %w", role.Name, err)
		}

		// Re-seed permissions from scratch so edits here propagate.
		if _, err := pool.Exec(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return fmt.Errorf("clear permissions for %s: %w", role.Name, err)
		}
		for _, p := range role.Permissions {
			rules, err := json.Marshal(p.FieldRules)
			if err != nil {
				return fmt.Errorf("marshal field rules: %w", err)
			}
			if _, err := pool.Exec(ctx, `
				INSERT INTO role_permissions (role_id, entity_type, verb, scope, field_rules)
				VALUES ($1, $2, $3, $4, $5)`,
				role.ID, p.EntityType, p.Verb, string(p.Scope), rules); err != nil {
				return fmt.Errorf("insert permission for %s: %w", role.Name, err)
			}
		}
		logger.Info("Seeded role",
			zap.String("role", role.Name),
			zap.Int("permissions", len(role.Permissions)),
		)
	}
	return nil
}

// demo users: an admin, a clerk scoped to one company, a manager.
func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	assignments := []struct {
		userID string
		roleID string
	}{
		{"alice", "role-admin"},
		{"bob", "role-sales-clerk"},
		{"carol", "role-sales-manager"},
	}
	for _, a := range assignments {
		if _, err := pool.Exec(ctx, `
			INSERT INTO user_roles (tenant_id, user_id, role_id) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			demoTenant, a.userID, a.roleID); err != nil {
			return fmt.Errorf("assign role to %s: %w", a.userID, err)
		}
	}

	scopes := []struct {
		userID    string
		scopeType string
		scopeID   string
	}{
		{"bob", "company", "acme"},
		{"carol", "company", "acme"},
		{"carol", "site", "acme-east"},
	}
	for _, s := range scopes {
		if _, err := pool.Exec(ctx, `
			INSERT INTO user_scopes (tenant_id, user_id, scope_type, scope_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			demoTenant, s.userID, s.scopeType, s.scopeID); err != nil {
			return fmt.Errorf("assign scope to %s: %w", s.userID, err)
		}
	}
	return nil
}
