package storage

import "time"

// Visitor is the per-URL visit counter row.
type Visitor struct {
	ID          int64
	PageURL     string
	VisitCount  int64
	LastVisited time.Time
	CreatedAt   time.Time
}
