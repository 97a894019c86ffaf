package orchestrator

import "time"

// State is the orchestrator's processing state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateStreaming  State = "streaming"
	StateError      State = "error"
)

// Status is published on every state change.
type Status struct {
	State State

	// MessageID is the assistant placeholder being streamed into.
	MessageID string

	// Err is set when State is StateError.
	Err error

	At time.Time
}

// Subscribe returns a channel of status updates and a function that stops
// the subscription. Updates are dropped for subscribers whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Status, func()) {
	ch := make(chan Status, buffer)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

func (o *Orchestrator) setState(s State, messageID string, err error) {
	st := Status{State: s, MessageID: messageID, Err: err, At: o.now()}

	o.mu.Lock()
	o.status = st
	o.mu.Unlock()

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
