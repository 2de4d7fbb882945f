package land

import "errors"

// Sentinel errors returned by UnitStore implementations so callers can
// distinguish a missing row from a failing backend.
var (
	ErrLandNotFound = errors.New("land not found")
	ErrUnitNotFound = errors.New("unit not found")
)
