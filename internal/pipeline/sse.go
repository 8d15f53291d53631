package pipeline

// PhaseStatus is the status field of a streaming phase event (spec.md §4.8).
type PhaseStatus string

const (
	PhaseStart PhaseStatus = "start"
	PhaseRetry PhaseStatus = "retry"
	PhaseDone  PhaseStatus = "done"
)

// PhaseName identifies one of the seven orchestrator phases for event
// labeling and for the failed_phases list.
type PhaseName string

const (
	PhaseClassify   PhaseName = "classify"
	PhaseExtract    PhaseName = "ai_insight"
	PhaseSaveImage  PhaseName = "image_save"
	PhaseTag        PhaseName = "tags"
	PhaseScore      PhaseName = "dimension_scores"
	PhasePersist    PhaseName = "persist"
	PhasePostCommit PhaseName = "rag_index"
)

// PhaseEvent is the SSE "phase" event emitted after each orchestrator step
// in the streaming entry point (spec.md §4.8).
type PhaseEvent struct {
	Type   string      `json:"type"`
	Phase  PhaseName   `json:"phase"`
	Status PhaseStatus `json:"status"`
	Label  string      `json:"label,omitempty"`
}

// ResultEvent carries the final FeedResponse payload as the streaming
// entry point's terminal event.
type ResultEvent struct {
	Type   string       `json:"type"`
	Result FeedResponse `json:"result"`
}

// ErrorEvent is emitted in place of ResultEvent when the request fails input
// validation or phase 6 (persist) itself fails, so the pipeline has nothing
// committed to report.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newPhaseEvent(phase PhaseName, status PhaseStatus) PhaseEvent {
	return PhaseEvent{Type: "phase", Phase: phase, Status: status}
}
