package app

import (
	"errors"
	"fmt"

	"casedesk/pkg/domain"
	"casedesk/pkg/store"
)

// storeErr maps backend failures into the domain taxonomy. Domain errors
// and conflicts pass through untouched; anything else, including timeouts,
// means the store is unhealthy and the caller should retry later.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
