package sidelink

import "errors"

var (
	ErrInvalidPool              = errors.New("invalid resource pool configuration")
	ErrInvalidSelectionWindow   = errors.New("invalid selection window")
	ErrInvalidRiv               = errors.New("invalid resource indication value")
	ErrInvalidReservationPeriod = errors.New("invalid resource reservation period")
	ErrInvalidTrp               = errors.New("invalid time resource pattern")
	ErrInvalidPscchResource     = errors.New("invalid PSCCH resource")
	ErrRbOutsidePool            = errors.New("resource blocks outside pool")
)
