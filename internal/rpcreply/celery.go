package rpcreply

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// celeryPayload is the wire shape spec.md §6 names for Celery reply
// messages: {status: STARTED|SUCCESS|ERROR|…, result: <object>}.
type celeryPayload struct {
	Status string              `json:"status"`
	Result jsoniter.RawMessage `json:"result"`
}

// ExtractCeleryReply implements spec.md §4.5.1's pycelery_extract_replies:
// given an ordered batch of messages for one job, it returns the result
// embedded in the latest terminal (SUCCESS/ERROR) message. A terminal
// SUCCESS yields its result; a terminal ERROR yields an arg-error; no
// terminal message at all (only STARTED observed) yields a nil result with
// no error — the job is still running.
func ExtractCeleryReply(messages []Message) (jsoniter.RawMessage, error) {
	var lastTerminalStatus string
	var lastTerminalResult jsoniter.RawMessage

	for _, m := range messages {
		var p celeryPayload
		if err := jsoniter.Unmarshal(m.Payload, &p); err != nil {
			return nil, coreerr.Wrap(coreerr.Arg, "celery_extract", "malformed celery payload", err)
		}
		switch p.Status {
		case "SUCCESS", "ERROR":
			lastTerminalStatus = p.Status
			lastTerminalResult = p.Result
		}
	}

	switch lastTerminalStatus {
	case "SUCCESS":
		return lastTerminalResult, nil
	case "ERROR":
		return nil, coreerr.New(coreerr.Arg, "celery_extract", "job reported ERROR status")
	default:
		return nil, nil
	}
}
