package processing

// Kind is the branch of the pipeline an envelope takes.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindProgressUpdate
	KindStateChange
	KindJobFinished
)

func (k Kind) String() string {
	switch k {
	case KindProgressUpdate:
		return "progress-update"
	case KindStateChange:
		return "state-change"
	case KindJobFinished:
		return "job-finished"
	default:
		return "unrecognized"
	}
}

// Classify maps an event type tag to a Kind. Matching is exact; every
// other tag is KindUnrecognized, which callers drop without error.
func Classify(eventType string) Kind {
	switch eventType {
	case EventTypeJobOutputProgress:
		return KindProgressUpdate
	case EventTypeJobStateChange:
		return KindStateChange
	case EventTypeJobFinished:
		return KindJobFinished
	default:
		return KindUnrecognized
	}
}
