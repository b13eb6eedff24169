// Package models provides data models for the extraction pipeline.
package models

import "time"

// User represents an account holding a coin balance
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Coins     int64     `json:"coins" db:"coins"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	IsAdmin   bool      `json:"is_admin" db:"is_admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
