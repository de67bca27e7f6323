package harness

// TraceEvent is one collaborator call recorded during a scenario run.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Prompt string `json:"prompt"`
	Reply  string `json:"reply,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Status is the run's final status name.
	Status string `json:"status"`

	// Trace lists every collaborator call in order.
	Trace []TraceEvent `json:"trace"`

	// Outputs holds the rendered text of each resolved output concept.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Errors lists expectation failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Outputs: make(map[string]string),
		Errors:  []string{},
	}
}

// AddError records an expectation failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
