package peerchef

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is the signing keypair of a node and the peer ID derived from
// it. It is immutable once created.
type Identity struct {
	priv crypto.PrivKey
	id   peer.ID
}

// NewIdentity generates a fresh Ed25519 identity. The node cannot run
// without one, so a failing random source panics.
func NewIdentity() *Identity {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("unexpected fail to generate key pair: %s", err))
	}

	id, err := IdentityFromKey(priv)
	if err != nil {
		panic(fmt.Sprintf("unexpected fail to derive peer id: %s", err))
	}
	return id
}

// IdentityFromKey wraps an existing private key.
func IdentityFromKey(priv crypto.PrivKey) (*Identity, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidCfg)
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv, id: id}, nil
}

func (id *Identity) ID() peer.ID {
	return id.id
}

// PrivKey is only handed to the transport so it can authenticate the
// connections and sign publications.
func (id *Identity) PrivKey() crypto.PrivKey {
	return id.priv
}

func (id *Identity) String() string {
	return id.id.String()
}

func (id *Identity) LogValue() slog.Value {
	return slog.StringValue(id.id.String())
}
