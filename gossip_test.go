package peerchef

import (
	"testing"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func TestGossipMeta(t *testing.T) {
	id := NewIdentity().ID()
	addrs := []multiaddr.Multiaddr{
		multiaddr.StringCast("/ip4/10.0.0.1/tcp/4001"),
		multiaddr.StringCast("/ip6/::1/tcp/4001"),
	}

	info, err := decodeGossipMeta(encodeGossipMeta(id, addrs, 512))
	require.NoError(t, err)
	require.Equal(t, id, info.ID)
	require.Len(t, info.Addrs, 2)
	require.True(t, addrs[0].Equal(info.Addrs[0]))
}

func TestGossipMeta_Trimmed(t *testing.T) {
	id := NewIdentity().ID()
	var addrs []multiaddr.Multiaddr
	for range 20 {
		addrs = append(addrs, multiaddr.StringCast("/ip4/192.168.100.100/tcp/40001"))
	}

	buf := encodeGossipMeta(id, addrs, 256)
	require.LessOrEqual(t, len(buf), 256)

	info, err := decodeGossipMeta(buf)
	require.NoError(t, err)
	require.Equal(t, id, info.ID)
	require.NotEmpty(t, info.Addrs)
	require.Less(t, len(info.Addrs), 20)
}

func TestGossipMeta_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      "nope",
		"bad peer":      `{"peer":"nobody"}`,
		"bad multiaddr": `{"peer":"` + NewIdentity().ID().String() + `","addrs":["tcp"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeGossipMeta([]byte(raw))
			require.ErrorIs(t, err, ErrGossipMeta)
		})
	}
}
