package session

// StageKind names a step of the scan workflow
type StageKind string

const (
	StageAreaSelection StageKind = "area_selection"
	StageIdle          StageKind = "idle"
	StageProcessing    StageKind = "processing"
	StageReview        StageKind = "review"
	StageSaving        StageKind = "saving"
	StageAreaSuccess   StageKind = "area_success"
	StageTourSummary   StageKind = "tour_summary"
	StageEmpty         StageKind = "empty"
	StageError         StageKind = "error"
	StageExited        StageKind = "exited"
)

// Stage is the current workflow step and its payload. Current and Total are
// set while saving, Count on area success and Message on error.
type Stage struct {
	Kind          StageKind `json:"kind"`
	Current       int       `json:"current,omitempty"`
	Total         int       `json:"total,omitempty"`
	Count         int       `json:"count,omitempty"`
	Message       string    `json:"message,omitempty"`
	DiscardPrompt bool      `json:"discard_prompt,omitempty"`
}

// EventKind names an input to the workflow
type EventKind int

const (
	EventSelectArea EventKind = iota
	EventQuickScan
	EventCapture
	EventScanSucceeded
	EventScanEmpty
	EventScanFailed
	EventRetry
	EventItemAdded
	EventItemsCleared
	EventConfirm
	EventProgress
	EventCommitDone
	EventNextArea
	EventFinish
	EventExit
	EventBack
	EventConfirmDiscard
	EventCancelDiscard
	EventRetake
	EventResume
	EventReturnToAreas
	EventReset
)

// Event is an input to Reduce. Tour reports whether an area is active and
// Held whether uncommitted review items exist.
type Event struct {
	Kind    EventKind
	Current int
	Total   int
	Count   int
	Message string
	Tour    bool
	Held    bool
}

func stage(kind StageKind) Stage {
	return Stage{Kind: kind}
}

// Reduce returns the stage that follows s on ev. Events that do not apply
// to s leave it unchanged.
func Reduce(s Stage, ev Event) Stage {
	next, _ := Transition(s, ev)
	return next
}

// Transition is Reduce that also reports whether ev applied to s
func Transition(s Stage, ev Event) (Stage, bool) {
	switch ev.Kind {
	case EventSelectArea, EventQuickScan:
		if s.Kind == StageAreaSelection {
			return stage(StageIdle), true
		}

	case EventCapture:
		switch s.Kind {
		case StageIdle, StageProcessing, StageReview, StageEmpty, StageError:
			return stage(StageProcessing), true
		}

	case EventScanSucceeded:
		if s.Kind == StageProcessing {
			return stage(StageReview), true
		}

	case EventScanEmpty:
		if s.Kind == StageProcessing {
			return stage(StageEmpty), true
		}

	case EventScanFailed:
		if s.Kind == StageProcessing {
			return Stage{Kind: StageError, Message: ev.Message}, true
		}

	case EventRetry:
		if s.Kind == StageError {
			return stage(StageProcessing), true
		}

	case EventItemAdded:
		switch s.Kind {
		case StageReview:
			return s, true
		case StageIdle, StageEmpty:
			return stage(StageReview), true
		}

	case EventItemsCleared:
		if s.Kind == StageReview {
			return stage(StageEmpty), true
		}

	case EventConfirm:
		if s.Kind == StageReview && !s.DiscardPrompt && ev.Total > 0 {
			return Stage{Kind: StageSaving, Current: 0, Total: ev.Total}, true
		}

	case EventResume:
		if s.Kind == StageIdle && !s.DiscardPrompt && ev.Held {
			return stage(StageReview), true
		}

	case EventProgress:
		if s.Kind == StageSaving {
			return Stage{Kind: StageSaving, Current: ev.Current, Total: ev.Total}, true
		}

	case EventCommitDone:
		if s.Kind == StageSaving {
			return Stage{Kind: StageAreaSuccess, Count: ev.Count}, true
		}

	case EventNextArea:
		if s.Kind == StageAreaSuccess && ev.Tour {
			return stage(StageIdle), true
		}

	case EventFinish:
		switch s.Kind {
		case StageAreaSuccess:
			if ev.Tour {
				return stage(StageTourSummary), true
			}
		case StageAreaSelection:
			if ev.Count > 0 {
				return stage(StageTourSummary), true
			}
		}

	case EventExit:
		switch s.Kind {
		case StageAreaSuccess:
			if !ev.Tour {
				return stage(StageExited), true
			}
		case StageTourSummary, StageAreaSelection:
			return stage(StageExited), true
		}

	case EventBack:
		return back(s, ev)

	case EventConfirmDiscard:
		if !s.DiscardPrompt {
			return s, false
		}
		switch s.Kind {
		case StageReview:
			return stage(StageIdle), true
		case StageIdle:
			if ev.Tour {
				return stage(StageAreaSelection), true
			}
			return stage(StageExited), true
		}

	case EventCancelDiscard:
		if s.DiscardPrompt {
			s.DiscardPrompt = false
			return s, true
		}

	case EventRetake:
		switch s.Kind {
		case StageReview, StageEmpty, StageError:
			return stage(StageIdle), true
		}

	case EventReturnToAreas:
		switch s.Kind {
		case StageSaving, StageExited, StageAreaSelection:
		default:
			return stage(StageAreaSelection), true
		}

	case EventReset:
		return stage(StageAreaSelection), true
	}
	return s, false
}

func back(s Stage, ev Event) (Stage, bool) {
	switch s.Kind {
	case StageAreaSelection, StageTourSummary:
		return stage(StageExited), true
	case StageReview:
		if s.DiscardPrompt {
			return s, false
		}
		s.DiscardPrompt = true
		return s, true
	case StageIdle:
		if ev.Held {
			if s.DiscardPrompt {
				return s, false
			}
			s.DiscardPrompt = true
			return s, true
		}
		if ev.Tour {
			return stage(StageAreaSelection), true
		}
		return stage(StageExited), true
	case StageProcessing, StageEmpty, StageError:
		return stage(StageIdle), true
	case StageAreaSuccess:
		if ev.Tour {
			return stage(StageAreaSelection), true
		}
		return stage(StageExited), true
	}
	return s, false
}
