package dbpool

// State is a connection's position in the per-connection state machine of
// spec.md §4.2.5: Initialized → Connecting → Idle → Querying → ResultReady*
// → Idle → … → Closing → Closed, plus the supplemented Reconnecting state
// (SPEC_FULL.md §4.6, grounded on original_source's connection.c).
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateIdle
	StateQuerying
	StateResultReady
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateResultReady:
		return "result-ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event distinguishes what triggered a call into the state machine's single
// entry point (spec.md §9 "State machine driven by a fused timer-poll
// callback"): an I/O wake from the embedded Timer-Poll, a direct
// application-internal call, a Timer-Poll timeout, or a close request.
type Event int

const (
	EventIO Event = iota
	EventAppPoke
	EventTimeout
	EventClose
)

// Backend is the connection-ops vtable of spec.md §3's Connection Pool: the
// single entry point driving a connection's backend-specific protocol
// steps. Implementations (e.g. internal/dbpool/mysqlconn) own the wire
// protocol; Connection owns only the generic state machine shell, pending/
// processing lists, and bulk-pack buffer.
type Backend interface {
	// StateTransition advances conn's backend-specific protocol by one step,
	// given the triggering status/event. It is invoked either by the
	// connection's Timer-Poll callback (status carries the TimerPoll.Status,
	// event is EventIO or EventTimeout) or directly by the application
	// (status=0, event=EventAppPoke or EventClose).
	StateTransition(conn *Connection, status int, event Event) error
}
