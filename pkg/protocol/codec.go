package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/raskyld/peerchef/pkg/recipe"
)

// Kind tells which shape a payload was decoded as.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindResponse
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindRequest:
		return "request"
	default:
		return "unrecognized"
	}
}

// Decoded is the result of [Decode]. Exactly one of Response and Request is
// set, according to Kind; both are nil for [KindUnrecognized].
type Decoded struct {
	Kind     Kind
	Response *ListResponse
	Request  *ListRequest
}

// wire shapes with every field optional so we can tell a missing field
// from a zero value.
type wireResponse struct {
	Mode *ListMode `json:"mode"`
	// raw so a present `null` can be told apart from a missing key.
	Data     json.RawMessage `json:"data"`
	Receiver *string         `json:"receiver"`
}

type wireRequest struct {
	Mode *ListMode `json:"mode"`
}

// Encode marshals a wire message. The messages of this package are always
// serialisable, a failure here is a programming error.
func Encode(msg any) []byte {
	buf, err := json.Marshal(msg)
	if err != nil {
		panic(fmt.Sprintf("unexpected fail to marshal: %s", err))
	}
	return buf
}

// EncodeResponse marshals a response, a nil Data is sent as an empty list.
func EncodeResponse(resp ListResponse) []byte {
	return Encode(resp)
}

func EncodeRequest(req ListRequest) []byte {
	return Encode(req)
}

// Decode classifies a payload received on the topic. It first tries a
// [ListResponse], then a [ListRequest]. Anything else, including payloads of
// unrelated protocols, yields [KindUnrecognized]. It never panics.
func Decode(payload []byte) Decoded {
	if resp, ok := decodeResponse(payload); ok {
		return Decoded{Kind: KindResponse, Response: resp}
	}
	if req, ok := decodeRequest(payload); ok {
		return Decoded{Kind: KindRequest, Request: req}
	}
	return Decoded{Kind: KindUnrecognized}
}

func decodeResponse(payload []byte) (*ListResponse, bool) {
	var wire wireResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, false
	}
	if wire.Mode == nil || len(wire.Data) == 0 || wire.Receiver == nil {
		return nil, false
	}

	var data []recipe.Recipe
	if err := json.Unmarshal(wire.Data, &data); err != nil {
		return nil, false
	}
	if data == nil {
		data = []recipe.Recipe{}
	}
	return &ListResponse{
		Mode:     *wire.Mode,
		Data:     data,
		Receiver: *wire.Receiver,
	}, true
}

func decodeRequest(payload []byte) (*ListRequest, bool) {
	var wire wireRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, false
	}
	if wire.Mode == nil {
		return nil, false
	}
	return &ListRequest{Mode: *wire.Mode}, true
}
