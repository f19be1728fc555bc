package models

import "errors"

var (
	ErrMissingDates     = errors.New("project start and end dates are required")
	ErrMalformedDate    = errors.New("malformed date")
	ErrNonChronological = errors.New("project end date precedes start date")
)
