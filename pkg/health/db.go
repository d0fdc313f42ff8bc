package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DatabaseChecker pings the hub's control-plane database over its
// existing connection pool.
type DatabaseChecker struct {
	db *sqlx.DB
}

// NewDatabase builds a checker over db.
func NewDatabase(db *sqlx.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (d *DatabaseChecker) Name() string { return "database" }

func (d *DatabaseChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := d.db.PingContext(ctx); err != nil {
		return result(start, false, fmt.Sprintf("ping failed: %v", err))
	}
	return result(start, true, "connected")
}
