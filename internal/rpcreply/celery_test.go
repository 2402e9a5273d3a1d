package rpcreply_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalalive/mediaflux-core/internal/rpcreply"
)

func msg(payload string) rpcreply.Message {
	return rpcreply.Message{Payload: []byte(payload)}
}

// TestExtractCeleryReplySuccessAfterStarted covers spec.md §8 S7's first
// case: STARTED then SUCCESS yields the SUCCESS message's result.
func TestExtractCeleryReplySuccessAfterStarted(t *testing.T) {
	messages := []rpcreply.Message{
		msg(`{"status":"STARTED","result":{"a":"x"}}`),
		msg(`{"status":"SUCCESS","result":{"a":"y"}}`),
	}
	result, err := rpcreply.ExtractCeleryReply(messages)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"y"}`, string(result))
}

// TestExtractCeleryReplyErrorAfterStarted covers spec.md §8 S7's second
// case: STARTED then ERROR yields an arg-error.
func TestExtractCeleryReplyErrorAfterStarted(t *testing.T) {
	messages := []rpcreply.Message{
		msg(`{"status":"STARTED","result":null}`),
		msg(`{"status":"ERROR","result":null}`),
	}
	_, err := rpcreply.ExtractCeleryReply(messages)
	require.Error(t, err)
}

// TestExtractCeleryReplyStartedOnly covers spec.md §8 S7's third case: only
// STARTED observed yields ok with a nil (still-running) reply.
func TestExtractCeleryReplyStartedOnly(t *testing.T) {
	messages := []rpcreply.Message{msg(`{"status":"STARTED","result":null}`)}
	result, err := rpcreply.ExtractCeleryReply(messages)
	require.NoError(t, err)
	require.Nil(t, []byte(result))
}

// TestExtractCeleryReplyMalformedPayload covers the "other shapes yield
// arg-error" rule of spec.md §6.
func TestExtractCeleryReplyMalformedPayload(t *testing.T) {
	messages := []rpcreply.Message{msg(`not json`)}
	_, err := rpcreply.ExtractCeleryReply(messages)
	require.Error(t, err)
}
