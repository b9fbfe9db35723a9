package instruction

import (
	"encoding/json"
	"errors"

	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

// DroppedPhrase is a phrase that produced no operation, or one the recovery pass rescued.
type DroppedPhrase struct {
	Phrase string `json:"phrase"`
	Reason string `json:"reason"`
}

// Diagnostics reports what parsing found beyond the operations themselves.
type Diagnostics struct {
	OperationsDetected int             `json:"operations_detected"`
	Dropped            []DroppedPhrase `json:"dropped,omitempty"`
	Recovered          []DroppedPhrase `json:"recovered,omitempty"`
	Conflicts          []Conflict      `json:"conflicts,omitempty"`
	// Preserved lists phrases that asked to keep the background as it is.
	Preserved []string `json:"preserved,omitempty"`
}

// Err joins an UnparseableError per dropped phrase, or returns nil.
func (d Diagnostics) Err() error {
	errs := make([]error, 0, len(d.Dropped))
	for _, dp := range d.Dropped {
		errs = append(errs, &refinererrors.UnparseableError{Phrase: dp.Phrase, Reason: dp.Reason})
	}
	return errors.Join(errs...)
}

// Plan is the ordered, conflict-free set of operations for one instruction and how to run them.
type Plan struct {
	Instruction       string
	Strategy          Strategy
	Operations        []Operation
	ConflictsResolved bool
	Diagnostics       Diagnostics
}

// BackgroundOperation returns the plan's background change or removal, if any.
func (p *Plan) BackgroundOperation() (Operation, bool) {
	for _, op := range p.Operations {
		if IsBackgroundOp(op) {
			return op, true
		}
	}
	return nil, false
}

// Descriptions lists each operation's summary in order.
func (p *Plan) Descriptions() []string {
	out := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		out[i] = op.Describe()
	}
	return out
}

// MarshalJSON tags each operation with its kind.
func (p *Plan) MarshalJSON() ([]byte, error) {
	ops := make([]json.RawMessage, 0, len(p.Operations))
	for _, op := range p.Operations {
		body, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["kind"], _ = json.Marshal(op.Kind())
		if body, err = json.Marshal(fields); err != nil {
			return nil, err
		}
		ops = append(ops, body)
	}
	return json.Marshal(struct {
		Instruction       string            `json:"instruction"`
		Strategy          Strategy          `json:"strategy"`
		Operations        []json.RawMessage `json:"operations"`
		ConflictsResolved bool              `json:"conflicts_resolved"`
		Diagnostics       Diagnostics       `json:"diagnostics"`
	}{p.Instruction, p.Strategy, ops, p.ConflictsResolved, p.Diagnostics})
}
