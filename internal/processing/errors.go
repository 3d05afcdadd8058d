package processing

import "errors"

// Failure classes surfaced by Service.Handle. Transports branch on them with errors.Is.
var (
	// ErrMalformedEvent marks a recognized event whose required fields are missing or unparsable.
	// Redelivering the same event cannot succeed.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrProvisioning marks a failed streaming grant call. The refresh signal was withheld.
	ErrProvisioning = errors.New("provisioning failed")
	// ErrFanOut marks a notification the fan-out channel did not accept.
	ErrFanOut = errors.New("fan-out failed")
)
