package calsync

type Decision int

const (
	Proceed Decision = iota
	SkipDuplicate
	SkipClosed
)

func (d Decision) String() string {
	switch d {
	case SkipDuplicate:
		return "skip-duplicate"
	case SkipClosed:
		return "skip-closed"
	}
	return "proceed"
}

// Decide is the sync policy for a single event. The duplicate check
// precedes the closed check: an already-synced event that has since
// closed reports as a duplicate.
func Decide(raw RawEvent, alreadySynced bool) Decision {
	if alreadySynced {
		return SkipDuplicate
	}
	if raw.Type == EventClosed {
		return SkipClosed
	}
	return Proceed
}
