package stalker

import (
	"bytes"
	"encoding/json"
)

// Portal responses nest their payload under "js". decodeEnvelope classifies a
// body once, at the transport boundary, so operations pattern-match on the
// result instead of re-deriving field presence per call.
type envelopeKind int

const (
	envMalformed envelopeKind = iota // not the expected envelope at all
	envEmpty                         // well-formed, but no payload: the portal said no
	envOK                            // payload present
)

type envelope struct {
	kind envelopeKind
	js   json.RawMessage
}

var emptyPayloads = [][]byte{
	[]byte("null"),
	[]byte("false"),
	[]byte(`""`),
	[]byte("{}"),
	[]byte("[]"),
}

func decodeEnvelope(body []byte) envelope {
	var wrapper struct {
		JS json.RawMessage `json:"js"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return envelope{kind: envMalformed}
	}
	js := bytes.TrimSpace(wrapper.JS)
	if len(js) == 0 {
		return envelope{kind: envEmpty}
	}
	for _, empty := range emptyPayloads {
		if bytes.Equal(js, empty) {
			return envelope{kind: envEmpty}
		}
	}
	return envelope{kind: envOK, js: js}
}
