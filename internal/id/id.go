package id

import "github.com/google/uuid"

// New returns a time-ordered identifier so stored items sort by import order.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
