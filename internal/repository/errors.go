package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrStoreUnavailable wraps any persistence failure that is not a lookup miss.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrPartialWrite indicates one half of a dual write succeeded and the other failed.
var ErrPartialWrite = errors.New("partial write")

// ErrResponseOwnership indicates a response id is already held by another student.
var ErrResponseOwnership = errors.New("response id belongs to another student")

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
