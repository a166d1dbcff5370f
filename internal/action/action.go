// Package action dispatches a widget's bound action. The action itself is
// defined and run by the host; this package only hands it over and reports
// completion back through the event callback.
package action

import (
	"context"

	"github.com/ondrasimku/filepicker-go/internal/domain"
)

const (
	TriggerOnFilesSelected = "onFilesSelected"
	EventOnFilesSelected   = "ON_FILES_SELECTED"
)

type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Event struct {
	Type string `json:"type"`
	// Callback must be invoked exactly once when the action finishes.
	Callback func(Result) `json:"-"`
}

type Request struct {
	WidgetID            string                `json:"widgetId"`
	TriggerPropertyName string                `json:"triggerPropertyName"`
	DynamicString       string                `json:"dynamicString"`
	Event               Event                 `json:"event"`
	Files               []domain.SelectedFile `json:"files"`
}

// Executor runs bound actions. Execute must not block on the action itself.
type Executor interface {
	Execute(ctx context.Context, req Request)
}

// Noop completes every action immediately.
type Noop struct{}

func (Noop) Execute(_ context.Context, req Request) {
	if req.Event.Callback != nil {
		req.Event.Callback(Result{Success: true})
	}
}
