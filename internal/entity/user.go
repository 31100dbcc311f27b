package entity

import (
	"time"
)

type User struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Icon      string
	PushToken string
	IsActive  bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// UserBrief is the display metadata the chat surfaces need per author.
type UserBrief struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Icon     string `json:"icon,omitempty"`
}
