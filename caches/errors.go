package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of storage failed for reason : %s", ve.Reason)
}

var (
	// ErrValidation is matched by every ValidationError through errors.Is.
	ErrValidation = errors.New("storage validation failed")

	ErrNoCacheItem = errors.New("no value found in cache")
	ErrNoPartition = errors.New("partition does not exist")
)

func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}
