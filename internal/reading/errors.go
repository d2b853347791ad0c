package reading

import "errors"

var (
	ErrEmptySourceID     = errors.New("reading: empty source id")
	ErrInvalidMetric     = errors.New("reading: invalid metric")
	ErrInvalidTimestamp  = errors.New("reading: invalid timestamp")
	ErrInvalidQuality    = errors.New("reading: invalid quality")
	ErrNonPositiveVolume = errors.New("reading: purchase volume must be positive")
	ErrNegativePrice     = errors.New("reading: negative price per liter")
	ErrEmptyLocation     = errors.New("reading: empty location")
)
