package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomID(t *testing.T) {
	id, err := NewRoomID("  standup ")
	require.NoError(t, err)
	assert.Equal(t, RoomID("standup"), id)

	_, err = NewRoomID(" ")
	assert.ErrorIs(t, err, ErrRoomIDRequired)

	_, err = NewRoomID(strings.Repeat("x", maxRoomIDLength+1))
	assert.ErrorIs(t, err, ErrRoomIDTooLong)
}

func TestNormalizeDisplayName(t *testing.T) {
	assert.Equal(t, "bob", NormalizeDisplayName("  bob "))
	long := strings.Repeat("é", MaxDisplayNameLength+10)
	assert.Equal(t, MaxDisplayNameLength, len([]rune(NormalizeDisplayName(long))))
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewEnvelope(TypeMediaStateChanged, MediaState{AudioEnabled: true})
	require.NoError(t, err)

	var state MediaState
	require.NoError(t, env.Decode(&state))
	assert.True(t, state.AudioEnabled)

	bad := Envelope{Type: TypeOffer, Payload: []byte(`{"sdp": 5}`)}
	assert.ErrorIs(t, bad.Decode(&SessionSignal{}), ErrMalformedPayload)

	empty := Envelope{Type: TypeLeaveRoom}
	assert.NoError(t, empty.Decode(&state))
	assert.Empty(t, empty.Payload)
}

func TestModerationTypes(t *testing.T) {
	for _, cmd := range []ModerationCommand{CommandMute, CommandUnmute, CommandDisableVideo, CommandEnableVideo, CommandKick} {
		require.True(t, cmd.Valid())
		back, ok := ModerationFromType(cmd.MessageType())
		require.True(t, ok)
		assert.Equal(t, cmd, back)
	}
	_, ok := ModerationFromType(TypeOffer)
	assert.False(t, ok)
	assert.False(t, ModerationCommand("ban").Valid())
}

func TestNewChatMessage(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	msg, err := NewChatMessage("p1", "bob", "  hi  ", at)
	require.NoError(t, err)
	assert.Equal(t, MessageID("p1-1700000000123"), msg.ID)
	assert.Equal(t, "hi", msg.Message)

	_, err = NewChatMessage("p1", "bob", "\n", at)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRoleCanModerate(t *testing.T) {
	assert.True(t, RoleHost.CanModerate())
	assert.True(t, RoleModerator.CanModerate())
	assert.False(t, RoleMember.CanModerate())
}
