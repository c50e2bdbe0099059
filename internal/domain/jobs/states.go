package jobs

// transitions is the job status graph. Statuses only move forward; failed
// and cancelled are reachable from every non-terminal status.
var transitions = map[string][]string{
	StatusPending:     {StatusDiscovering, StatusFailed, StatusCancelled},
	StatusDiscovering: {StatusAnalyzing, StatusFailed, StatusCancelled},
	StatusAnalyzing:   {StatusSelecting, StatusFailed, StatusCancelled},
	StatusSelecting:   {StatusRendering, StatusFailed, StatusCancelled},
	StatusRendering:   {StatusCompleted, StatusFailed, StatusCancelled},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses the orchestrator still has decisions to
// make for.
func ActiveStatuses() []string {
	return []string{StatusPending, StatusDiscovering, StatusAnalyzing, StatusSelecting, StatusRendering}
}
