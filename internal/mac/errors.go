package mac

import "errors"

var (
	// Configuration errors; construction fails.
	ErrInvalidConfig            = errors.New("invalid MAC configuration")
	ErrInvalidReservationPeriod = errors.New("invalid resource reservation period")
	ErrInvalidKtrp              = errors.New("invalid KTRP repetition count")
	ErrInvalidPucchSize         = errors.New("PUCCH size must be a multiple of 2")

	// Capacity errors; the tick that hits them aborts.
	ErrInsufficientTxOpportunity = errors.New("insufficient transmission opportunity for status PDU")

	ErrPoolExists             = errors.New("pool already exists for destination")
	ErrUnknownPool            = errors.New("no pool for destination")
	ErrLogicalChannelExists   = errors.New("logical channel already exists")
	ErrUnknownLogicalChannel  = errors.New("unknown logical channel")
	ErrNoCandidates           = errors.New("pool offers no candidate resources")
	ErrScheduleInconsistent   = errors.New("PSCCH and PSSCH schedules diverged")
	ErrDataOnSignallingBearer = errors.New("buffer status reported for LCID 0")
)
