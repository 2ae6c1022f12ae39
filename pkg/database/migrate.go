package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"climate-analytics/pkg/logging"
)

//go:embed migrations
var migrations embed.FS

// Migration directions
const (
	Up   = "up"
	Down = "down"
)

// migrationFiles lists the scripts of the driver for direction, in the order
// they must run
func migrationFiles(driver, direction string) ([]string, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("unknown migration direction %q", direction)
	}
	dir := "migrations/" + driver
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "."+direction+".sql") {
			files = append(files, dir+"/"+e.Name())
		}
	}
	sort.Strings(files)
	if direction == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// Migrate applies the embedded schema scripts in the given direction
func (d *DB) Migrate(ctx context.Context, direction string) error {
	files, err := migrationFiles(d.config.Driver, direction)
	if err != nil {
		return err
	}
	for _, name := range files {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				d.metrics.RecordDBError("migration_error")
				return fmt.Errorf("migration %s: %w", name, err)
			}
		}
		d.logger.Info(ctx, "[DB_MIGRATE] Migration applied", logging.Fields{
			"file":      name,
			"direction": direction,
		})
	}
	return nil
}
