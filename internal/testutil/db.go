package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"sharetips/internal/infrastructure/database"
	"sharetips/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB creates an in-memory SQLite database with the full schema. The
// underlying connection is closed when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// SeedUsers inserts one user row per id. Ids 1 and 2 are the system wallets
// in the default configuration; seed them too when a test needs them listed.
func SeedUsers(t *testing.T, db *gorm.DB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		user := &model.User{ID: id, Username: fmt.Sprintf("user-%d", id), IsTipster: true}
		if err := db.Create(user).Error; err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
}

// SeedTicket inserts a ticket and returns it.
func SeedTicket(t *testing.T, db *gorm.DB, creatorID, priceCents int64, public bool) *model.Ticket {
	t.Helper()
	ticket := &model.Ticket{
		CreatorID:  creatorID,
		Title:      fmt.Sprintf("tip by %d", creatorID),
		IsPublic:   public,
		PriceCents: priceCents,
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket
}

// SetBalance overwrites a wallet's available balance, creating the row when
// needed. Tests use it to start from a known state.
func SetBalance(t *testing.T, db *gorm.DB, ownerID, cents int64) {
	t.Helper()
	wallet := &model.Wallet{OwnerID: ownerID}
	if err := db.Where("owner_id = ?", ownerID).FirstOrCreate(wallet).Error; err != nil {
		t.Fatalf("get wallet %d: %v", ownerID, err)
	}
	if err := db.Model(wallet).Update("available_cents", cents).Error; err != nil {
		t.Fatalf("set balance %d: %v", ownerID, err)
	}
}
