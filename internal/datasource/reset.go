package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// LoadStats reports the outcome of a table reload.
type LoadStats struct {
	Table    string        `json:"table"`
	Source   string        `json:"source"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// Reset drops table if it exists and reloads it from the CSV at path.
// Other tables in the same database are left untouched.
func Reset(ctx context.Context, ws WritableSource, table, path string) (LoadStats, error) {
	start := time.Now()
	stats := LoadStats{Table: table, Source: path}

	if _, err := os.Stat(path); err != nil {
		return stats, fmt.Errorf("csv for %s: %w", table, err)
	}

	if err := ws.DropTable(ctx, table); err != nil {
		return stats, err
	}
	if err := ws.LoadCSV(ctx, table, path); err != nil {
		return stats, err
	}

	res, err := Query(ctx, ws, "SELECT COUNT(*) FROM "+Quote(table))
	if err != nil {
		return stats, fmt.Errorf("count %s: %w", table, err)
	}
	if res.Len() > 0 {
		stats.Rows, _ = Int(res.Rows[0][0])
	}
	stats.Duration = time.Since(start)

	slog.Info("table loaded",
		"table", table,
		"source", path,
		"rows", stats.Rows,
		"duration", stats.Duration,
	)
	return stats, nil
}
