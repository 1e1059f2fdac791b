package state

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSuccess    JobStatus = "SUCCESS"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition happens without a new attempt.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s JobStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if status == s {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusSuccess,
	StatusFailed,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions lists every allowed status change.
// FAILED -> PROCESSING is a retry attempt, PROCESSING -> PROCESSING a redelivered one.
// SUCCESS is never left.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusProcessing, To: StatusProcessing},
	{From: StatusFailed, To: StatusProcessing},
	{From: StatusProcessing, To: StatusSuccess},
	{From: StatusProcessing, To: StatusFailed},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses a job may be in to move to the given status.
func SourcesOf(to JobStatus) []JobStatus {
	var sources []JobStatus
	for _, t := range ValidTransitions {
		if t.To == to {
			sources = append(sources, t.From)
		}
	}
	return sources
}
