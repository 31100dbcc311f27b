package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoomTypeGroup    = "group"
	RoomTypePersonal = "personal"
)

type Room struct {
	ID        uuid.UUID `gorm:"primaryKey"`
	RT        string    `gorm:"not null"` // group | personal
	Title     string    `gorm:"not null"`
	HostID    string    // group rooms only
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type RoomMember struct {
	ID       int64     `gorm:"primaryKey"`
	RoomID   string    `gorm:"not null;index"`
	UserID   string    `gorm:"not null;index"`
	Role     string    `gorm:"not null"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}
