package request

import "errors"

var (
	ErrPhotosRequired        = errors.New("at least one photo is required")
	ErrPosmRequired          = errors.New("job type requires a posm selection")
	ErrUnknownDealer         = errors.New("dealer cannot be resolved")
	ErrUnknownTerritory      = errors.New("territory cannot be resolved")
	ErrTerminalStatus        = errors.New("request is in a terminal status")
	ErrInvalidTransition     = errors.New("status transition not allowed")
	ErrPlannedDateRequired   = errors.New("planned date is required")
	ErrCompletedDateRequired = errors.New("completed date is required")
	ErrStaleRevision         = errors.New("request was modified by someone else")
)
