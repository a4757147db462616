package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s", ve.Reason)
}

var (
	// ErrNoCacheItem is returned by Get when no entry exists for the key.
	ErrNoCacheItem = errors.New("no value found in cache")
)
