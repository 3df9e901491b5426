package db

import "gorm.io/gorm"

// ForUpdate returns the row-lock suffix for the connection's dialect.
// SQLite serializes writers on its own and rejects the clause.
func ForUpdate(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	switch conn.Dialector.Name() {
	case "sqlite", "sqlite3":
		return ""
	default:
		return " FOR UPDATE"
	}
}

// ForUpdateSkipLocked returns the work-claim suffix for batch jobs.
func ForUpdateSkipLocked(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	switch conn.Dialector.Name() {
	case "sqlite", "sqlite3":
		return ""
	default:
		return " FOR UPDATE SKIP LOCKED"
	}
}
