package dbpool

import "github.com/metalalive/mediaflux-core/internal/coreerr"

// Status mirrors the per-operation return codes of spec.md §4.2.6:
// {arg, memory, pool-busy, connection-busy, os, skipped, ok}.
type Status int

const (
	StatusOK Status = iota
	StatusArg
	StatusMemory
	StatusPoolBusy
	StatusConnectionBusy
	StatusOS
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusArg:
		return "arg"
	case StatusMemory:
		return "memory"
	case StatusPoolBusy:
		return "pool-busy"
	case StatusConnectionBusy:
		return "connection-busy"
	case StatusOS:
		return "os"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// statusToCode maps a dbpool Status onto the shared coreerr taxonomy, for
// operations that return an error rather than a bare Status.
func statusToCode(s Status) coreerr.Code {
	switch s {
	case StatusArg:
		return coreerr.Arg
	case StatusMemory:
		return coreerr.Memory
	case StatusPoolBusy, StatusConnectionBusy:
		return coreerr.Busy
	case StatusOS:
		return coreerr.OS
	case StatusSkipped:
		return coreerr.Skipped
	default:
		return coreerr.OS
	}
}

func statusErr(op string, s Status, msg string) *coreerr.Error {
	return coreerr.New(statusToCode(s), op, msg)
}
