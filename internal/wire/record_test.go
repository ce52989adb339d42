package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		Type:      TypeP2PMessage,
		To:        "bob",
		From:      "alice",
		Message:   "hi there",
		MessageID: "m1",
		Timestamp: "2026-08-25T12:00:00Z",
	}
	raw, err := rec.Encode()
	require.NoError(t, err)

	got, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDecodeRecordIgnoresUnknownKeys(t *testing.T) {
	raw := []byte(`{"type":"heartbeat","session_token":"tok","future_field":42}`)
	got, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, got.Type)
	assert.Equal(t, "tok", got.SessionToken)
}

func TestDecodeRecordRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeRecord([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestOptionalNumericFieldsOmittedWhenNil(t *testing.T) {
	raw, err := (&Record{Type: TypeCallEndResponse, Status: StatusEnded, CallID: "c1"}).Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "duration")
	assert.NotContains(t, string(raw), "call_port")

	raw, err = (&Record{Type: TypeCallEndResponse, CallID: "c1", Duration: IntPtr(0)}).Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"duration":0`)
}

func TestErrorRecord(t *testing.T) {
	rec := ErrorRecord("not authorized")
	assert.Equal(t, TypeError, rec.Type)
	assert.Equal(t, "not authorized", rec.Message)
}
