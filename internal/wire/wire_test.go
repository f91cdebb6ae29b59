package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Gather/internal/domain"
)

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"joinRequest","nickname":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, KindJoinRequest, env.Type)
	assert.Equal(t, "alice", env.Nickname)
}

func TestDecodeMemberList(t *testing.T) {
	raw := `{"type":"memberList","list":[{"id":"p1","nickname":"alice"},{"id":"p2","nickname":"bob"}]}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	require.Len(t, env.List, 2)
	assert.Equal(t, domain.PeerID("p2"), env.List[1].ID)
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"nickname":"alice"}`))
	assert.Error(t, err)
}

func TestDecodeBadJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestEncodeOmitsZeroFields(t *testing.T) {
	b, err := Encode(Envelope{Type: KindShutdown})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"shutdown"}`, string(b))
}
