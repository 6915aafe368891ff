package repository

import (
	"context"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Exists reports whether a live (not soft-deleted) user has this id.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}
