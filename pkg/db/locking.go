package db

import "gorm.io/gorm"

// ForUpdate returns the row-lock suffix for the connection's dialect.
// SQLite serializes writers on the database file and has no FOR UPDATE.
func ForUpdate(db *gorm.DB) string {
	if isSQLite(db) {
		return ""
	}
	return " FOR UPDATE"
}

// ForUpdateSkipLocked is ForUpdate for batch claimers that must not wait on each other.
func ForUpdateSkipLocked(db *gorm.DB) string {
	if isSQLite(db) {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}

func isSQLite(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return db.Dialector.Name() == "sqlite"
}
