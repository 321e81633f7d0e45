package attachment

// validTransitions enumerates the allowed lifecycle moves. Ready and
// Quarantined are terminal.
var validTransitions = map[Status][]Status{
	StatusUploading:  {StatusProcessing},
	StatusProcessing: {StatusReady, StatusQuarantined},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// ReapableStatuses are the statuses the orphan reaper may collect.
// Processing is excluded so in-flight reassembly is never raced.
var ReapableStatuses = []Status{StatusUploading, StatusReady, StatusQuarantined}
