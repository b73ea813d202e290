package domain

// OriginStep is the result step of an action that loops back to the step it started from.
const OriginStep = -1

type Action struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
	// Step the issue ends up on, or OriginStep.
	ResultStep int `json:"resultStep"`
}

type Step struct {
	Id       int      `json:"id"`
	StatusId string   `json:"statusId"`
	Actions  []Action `json:"actions"`
}

type Workflow struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

func (w *Workflow) StepForStatus(statusId string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].StatusId == statusId {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// LinkedStatus returns the status linked to stepId.
func (w *Workflow) LinkedStatus(stepId int) (string, bool) {
	for _, s := range w.Steps {
		if s.Id == stepId {
			return s.StatusId, s.StatusId != ""
		}
	}
	return "", false
}

func (w *Workflow) HasStatus(statusId string) bool {
	_, ok := w.StepForStatus(statusId)
	return ok
}

func (w *Workflow) Statuses() []string {
	statuses := make([]string, 0, len(w.Steps))
	for _, s := range w.Steps {
		statuses = append(statuses, s.StatusId)
	}
	return statuses
}

// Destination resolves the status an issue currently in statusId reaches by taking action.
// Returns false if the destination does not exist in this workflow.
func (w *Workflow) Destination(statusId string, action Action) (string, bool) {
	if action.ResultStep == OriginStep {
		return statusId, w.HasStatus(statusId)
	}
	dest, ok := w.LinkedStatus(action.ResultStep)
	if !ok {
		return "", false
	}
	return dest, w.HasStatus(dest)
}
