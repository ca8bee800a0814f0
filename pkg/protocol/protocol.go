// Package protocol holds the two messages exchanged on the recipes topic and
// their JSON wire encoding.
//
// A request asks peers for their public recipes:
//
//	{"mode":"ALL"}
//	{"mode":{"One":"12D3KooW..."}}
//
// A response carries them back, logically addressed to the requester:
//
//	{"mode":"ALL","data":[...],"receiver":"12D3KooW..."}
//
// Responses are still delivered to every subscriber, receivers filter on
// the `receiver` field.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raskyld/peerchef/pkg/recipe"
)

const (
	wireModeAll    = "ALL"
	wireModeTarget = "One"
)

var ErrInvalidMode = errors.New("protocol: invalid list mode")

// ListMode is either `All` or targeted at a single peer.
type ListMode struct {
	targeted bool
	peer     string
}

// All addresses every peer subscribed to the topic.
func All() ListMode {
	return ListMode{}
}

// TargetedAt addresses a single peer, identified by its printable peer ID.
func TargetedAt(peer string) ListMode {
	return ListMode{targeted: true, peer: peer}
}

func (m ListMode) IsAll() bool {
	return !m.targeted
}

// Target returns the addressed peer and whether the mode is targeted.
func (m ListMode) Target() (string, bool) {
	return m.peer, m.targeted
}

func (m ListMode) String() string {
	if m.targeted {
		return fmt.Sprintf("%s(%s)", wireModeTarget, m.peer)
	}
	return wireModeAll
}

func (m ListMode) MarshalJSON() ([]byte, error) {
	if m.targeted {
		return json.Marshal(map[string]string{wireModeTarget: m.peer})
	}
	return json.Marshal(wireModeAll)
}

func (m *ListMode) UnmarshalJSON(buf []byte) error {
	buf = bytes.TrimSpace(buf)
	if len(buf) == 0 {
		return ErrInvalidMode
	}

	switch buf[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(buf, &tag); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMode, err)
		}
		if tag != wireModeAll {
			return fmt.Errorf("%w: unknown tag %q", ErrInvalidMode, tag)
		}
		*m = All()
		return nil
	case '{':
		var variant map[string]json.RawMessage
		if err := json.Unmarshal(buf, &variant); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMode, err)
		}
		raw, ok := variant[wireModeTarget]
		if !ok || len(variant) != 1 {
			return fmt.Errorf("%w: expected a single %q variant", ErrInvalidMode, wireModeTarget)
		}
		var peer string
		if err := json.Unmarshal(raw, &peer); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMode, err)
		}
		*m = TargetedAt(peer)
		return nil
	default:
		return ErrInvalidMode
	}
}

// ListRequest asks peers for their public recipes.
type ListRequest struct {
	Mode ListMode `json:"mode"`
}

// ListResponse answers a [ListRequest]. Mode mirrors the request which
// produced it and is informational only.
type ListResponse struct {
	Mode     ListMode        `json:"mode"`
	Data     []recipe.Recipe `json:"data"`
	Receiver string          `json:"receiver"`
}

// MarshalJSON always emits `data` as a list, a nil Data is sent as `[]`.
func (r ListResponse) MarshalJSON() ([]byte, error) {
	type plain ListResponse
	if r.Data == nil {
		r.Data = []recipe.Recipe{}
	}
	return json.Marshal(plain(r))
}
