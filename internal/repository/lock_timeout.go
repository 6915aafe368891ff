package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SetLockWaitTimeout bounds how long row locks taken later in tx may wait.
// SQLite has no row locks; its busy timeout lives in the DSN.
func SetLockWaitTimeout(tx *gorm.DB, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	switch tx.Dialector.Name() {
	case "mysql":
		seconds := int(wait.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)).Error
	case "postgres":
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error
	default:
		return nil
	}
}
