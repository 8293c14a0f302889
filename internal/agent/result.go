package agent

// Status is the outcome of a tool invocation as reported to the model.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Error codes carried in tool results.
const (
	// ErrCodeValidation marks input the model can correct and resend.
	ErrCodeValidation = "validation"
	// ErrCodeExecution marks a failure while running the tool.
	ErrCodeExecution = "execution"
)

// Error is a structured tool failure for model consumption.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the envelope every tool handler returns. Failures travel inside
// the envelope with a nil Go error so the model receives them as tool output
// and can recover (rephrase, retry, or answer without the tool); a non-nil
// Go error would abort the whole generate call instead.
type Result struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  *Error         `json:"error,omitempty"`
}
