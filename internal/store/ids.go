package store

import "github.com/google/uuid"

func newRunID() string {
	return uuid.NewString()
}

func newConflictLogID() string {
	return uuid.NewString()
}
