// Package models - user.go defines the User model.
package models

import "time"

// User is a person who may belong to several organizations
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
