package peerchef

import (
	"crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestIdentity_MatchesLibp2p(t *testing.T) {
	for name, keyType := range map[string]int{
		"ed25519":   crypto.Ed25519,
		"secp256k1": crypto.Secp256k1,
		"rsa":       crypto.RSA,
	} {
		t.Run(name, func(t *testing.T) {
			priv, pub, err := crypto.GenerateKeyPairWithReader(keyType, 2048, rand.Reader)
			require.NoError(t, err)

			id, err := IdentityFromKey(priv)
			require.NoError(t, err)

			expected, err := peer.IDFromPublicKey(pub)
			require.NoError(t, err)
			require.Equal(t, expected, id.ID())
			require.Equal(t, expected.String(), id.String())
			require.True(t, id.ID().MatchesPrivateKey(priv))
		})
	}
}

func TestIdentity_Unique(t *testing.T) {
	a := NewIdentity()
	b := NewIdentity()
	require.NotEqual(t, a.ID(), b.ID())
	require.NotNil(t, a.PrivKey())
}

func TestIdentityFromKey_Nil(t *testing.T) {
	_, err := IdentityFromKey(nil)
	require.ErrorIs(t, err, ErrInvalidCfg)
}
