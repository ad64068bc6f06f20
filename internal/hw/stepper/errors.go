package stepper

import "errors"

// Channel-level error kinds. Adapters wrap these so callers can match with errors.Is.
var (
	ErrPhaseConfiguration = errors.New("phase configuration failed")
	ErrDutyConfiguration  = errors.New("duty configuration failed")
	ErrPhaseOutOfRange    = errors.New("phase out of range (0-360 degrees)")
	ErrDutyOutOfRange     = errors.New("duty out of range (0-100 percent)")
	ErrUnknownDirection   = errors.New("unknown direction")
)
