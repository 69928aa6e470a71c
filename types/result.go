package types

// Result is the normalized record returned to every outer collaborator of the
// command surface. On failure Success is false and Error carries a
// human-readable message; Output is a short status line for interactive use.
type Result struct {
	Success   bool   `json:"success"`
	Operation string `json:"operation"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`

	// Skipped reports that a conditional operation (start_if_stopped,
	// stop_if_running) found nothing to do.
	Skipped bool `json:"skipped,omitempty"`

	// Execution fields, present for execute operations only.
	ExitCode *int   `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	// Guest is attached by describe/create so callers can bind fields.
	Guest *Guest `json:"guest,omitempty"`
}
