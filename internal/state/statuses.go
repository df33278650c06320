package state

type JobStatus string

const (
	StatusUnfulfilled JobStatus = "unfulfilled"
	StatusResolved    JobStatus = "resolved"
	StatusRejected    JobStatus = "rejected"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusRejected
}

var AllStatuses = []JobStatus{
	StatusUnfulfilled,
	StatusResolved,
	StatusRejected,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusUnfulfilled, To: StatusResolved},
	{From: StatusUnfulfilled, To: StatusRejected},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
