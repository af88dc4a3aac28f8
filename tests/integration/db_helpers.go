package integration

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kwhitfield/bastion/internal/database"
	"github.com/kwhitfield/bastion/internal/models"
	"github.com/kwhitfield/bastion/internal/repositories"
	pkgauth "github.com/kwhitfield/bastion/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithInitScripts(),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*1000),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(nil, "", 0))

	// Goose needs a stdlib DB connection; use the pgx adapter.
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"sessions",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB, sessionExpiry time.Duration) (
	*repositories.UserRepository,
	*repositories.SessionRepository,
) {
	return repositories.NewUserRepository(db),
		repositories.NewSessionRepository(db, sessionExpiry)
}

// SeedUser inserts a test user with hashed password and a fresh token key
func SeedUser(ctx context.Context, pool *pgxpool.Pool, username, password string) (*models.User, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}

	query := `
		INSERT INTO users (username, email, password_hash, token_key, role, status)
		VALUES ($1, $2, $3, $4, 'user', 'active')
		RETURNING id, username, email, password_hash, token_key, role, status, created_at, updated_at
	`

	var user models.User
	err = pool.QueryRow(ctx, query, username, username+"@example.com", hashedPassword, tokenKey).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.TokenKey,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

// SeedCertificateUser inserts a user resolvable by client-certificate CN
func SeedCertificateUser(ctx context.Context, pool *pgxpool.Pool, username, commonName string) (*models.User, error) {
	user, err := SeedUser(ctx, pool, username, "unused-Password123")
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx,
		`UPDATE users SET certificate_cn = $2 WHERE id = $1`, user.ID, commonName); err != nil {
		return nil, fmt.Errorf("failed to set certificate cn: %w", err)
	}
	user.CertificateCN = commonName

	return user, nil
}

// SetUserStatus flips an account between active, suspended and disabled
func SetUserStatus(ctx context.Context, pool *pgxpool.Pool, userID, status string) error {
	if _, err := pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, userID, status); err != nil {
		return fmt.Errorf("failed to set user status: %w", err)
	}
	return nil
}

// ExpireSession forces a session past its expiry without deleting the row
func ExpireSession(ctx context.Context, pool *pgxpool.Pool, sessionID string) error {
	if _, err := pool.Exec(ctx,
		`UPDATE sessions SET expires_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}
	return nil
}
