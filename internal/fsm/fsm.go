package fsm

import "fmt"

// States of the payment resumption workflow. One run walks
// idle -> detecting -> polling -> reconciling -> done and may finish early.
const (
	StateIdle        = "idle"
	StateDetecting   = "detecting"
	StatePolling     = "polling"
	StateReconciling = "reconciling"
	StateDone        = "done"
)

var transitions = map[string]map[string]struct{}{
	StateIdle:        {StateDetecting: {}},
	StateDetecting:   {StatePolling: {}, StateDone: {}},
	StatePolling:     {StateReconciling: {}, StateDone: {}},
	StateReconciling: {StateDone: {}},
	StateDone:        {StateIdle: {}, StateDetecting: {}},
}

// CanTransition returns whether the workflow can move from one state to another.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Machine tracks the current state of one reconciler run.
type Machine struct {
	state   string
	history []string
}

// New returns a machine in the idle state.
func New() *Machine {
	return &Machine{state: StateIdle, history: []string{StateIdle}}
}

func (m *Machine) State() string { return m.state }

// History returns every state visited, in order.
func (m *Machine) History() []string {
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// Apply moves the machine to the target state.
func (m *Machine) Apply(to string) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("invalid workflow transition %s -> %s", m.state, to)
	}
	if m.state != to {
		m.state = to
		m.history = append(m.history, to)
	}
	return nil
}
