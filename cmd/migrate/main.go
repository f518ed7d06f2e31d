package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"idgate.org/internal/identity"
	"idgate.org/internal/ids"
	"idgate.org/internal/migrate"
	"idgate.org/ops/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn           = flag.String("dsn", os.Getenv("IDGATE_PG_DSN"), "PostgreSQL DSN")
		adminEmail    = flag.String("admin-email", "admin@example.com", "Email for the bootstrap command")
		adminName     = flag.String("admin-name", "Administrator", "Display name for the bootstrap command")
		adminPassword = flag.String("admin-password", os.Getenv("IDGATE_ADMIN_PASSWORD"), "Password for the bootstrap command")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or IDGATE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.Files, migrations.SQLDir, migrations.SeedsDir)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap":
		err = bootstrapAdmin(ctx, db, *adminEmail, *adminName, *adminPassword)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapAdmin creates the first SUPER_ADMIN account. The password is
// hashed here rather than shipped as a precomputed hash in seed SQL.
func bootstrapAdmin(ctx context.Context, db *sql.DB, email, name, password string) error {
	if password == "" {
		return errors.New("missing admin password: provide via -admin-password or IDGATE_ADMIN_PASSWORD")
	}

	hasher := identity.NewBcryptHasher(0)
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var roleID string
	if err := tx.QueryRowContext(ctx, `
		select id from roles where name = $1 and deleted_at is null
	`, string(identity.RoleSuperAdmin)).Scan(&roleID); err != nil {
		return fmt.Errorf("role catalog not seeded, run the seed command first: %w", err)
	}

	var accountID string
	err = tx.QueryRowContext(ctx, `
		select id from accounts where email = $1 and deleted_at is null
	`, email).Scan(&accountID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		accountID = ids.New()
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			insert into accounts (id, email, name, password_hash, active, created_at, updated_at)
			values ($1, $2, $3, $4, true, $5, $5)
		`, accountID, email, name, hash, now); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
	case err != nil:
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id, active, assigned_at)
		select $1, $2, $3, true, now()
		where not exists (
			select 1 from user_roles
			where user_id = $2 and role_id = $3 and active
		)
	`, ids.New(), accountID, roleID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into audit_log (action, subject_id, details)
		values ('account.bootstrapped', $1, $2)
	`, accountID, fmt.Sprintf(`{"email":%q}`, email)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("bootstrapped %s as %s", email, identity.RoleSuperAdmin)
	return nil
}
