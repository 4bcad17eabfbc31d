package app

import (
	"database/sql"
	"fmt"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/engine"
	"pactline/internal/migrate"
)

// App wires the workspace together: open database, applied migrations,
// loaded config, ready engine.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open initializes the workspace. A missing pactline.yml falls back to the
// built-in defaults.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
