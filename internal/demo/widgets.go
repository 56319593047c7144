// Package demo holds the small request/response payload shared by the
// executor-demo and invoker-demo commands, standing in for whatever
// typed command a real integration would define.
package demo

// WidgetRequest asks the executor to create a widget.
type WidgetRequest struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// WidgetResponse is returned once the widget has been created.
type WidgetResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// RequestTopicPattern is the command name both demos bind to.
const RequestTopicPattern = "widgets/create"
