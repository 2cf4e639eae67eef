package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedTypes(t *testing.T) {
	require.EqualValues(t, 12, NumReserved)
	assert.Equal(t, "QuitRequest", BuiltinName(QuitRequest))
	assert.Equal(t, "CancelUpdate", BuiltinName(CancelUpdate))
	assert.Equal(t, "", BuiltinName(NumReserved))
}

func TestHelloReplyEncodeDecode(t *testing.T) {
	p := HelloReplyPayload{MasterName: "master", AssignedID: 1, AssignedName: "A/1"}

	var got HelloReplyPayload
	require.NoError(t, got.Decode(p.Encode()))
	assert.Equal(t, p, got)
}

func TestHelloReportEncodeDecode(t *testing.T) {
	p := HelloReportPayload{Name: "B/1", ID: 2, Host: "10.0.0.7", Port: 40123}

	var got HelloReportPayload
	require.NoError(t, got.Decode(p.Encode()))
	assert.Equal(t, p, got)
}

func TestRegisterReportAnonymous(t *testing.T) {
	p := RegisterReportPayload{Name: "", Type: 13}

	var got RegisterReportPayload
	require.NoError(t, got.Decode(p.Encode()))
	assert.Equal(t, p, got)
}

func TestPayloadDecodeShort(t *testing.T) {
	var hello HelloRequestPayload
	require.Error(t, hello.Decode([]byte{0}))

	var sub SubscriptionPayload
	require.Error(t, sub.Decode(nil))
}
