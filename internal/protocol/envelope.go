package protocol

import (
	"bytes"
	"encoding/json"
)

// Envelope is the single message shape used for requests, responses and
// notifications. ID is optional: requests that carry one get it echoed on
// their response; notifications never carry one.
type Envelope struct {
	ID      uint64          `json:"id,omitempty"`
	Action  Action          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

// HasData reports whether Data holds something other than absent or null.
func (e *Envelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Bind decodes Data into v. Absent or null data decodes as an empty object.
func (e *Envelope) Bind(v interface{}) error {
	if !e.HasData() {
		return json.Unmarshal(emptyObject, v)
	}
	return json.Unmarshal(e.Data, v)
}

// IsNotification reports whether the envelope is a server push.
func (e *Envelope) IsNotification() bool {
	return e.Action.IsNotification()
}

// NewRequest builds a request envelope. A nil payload sends {}.
func NewRequest(action Action, payload interface{}) (*Envelope, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Action: action, Data: data}, nil
}

// NewResponse builds a response. payload may be nil, a json.RawMessage or
// any value that marshals to a JSON object.
func NewResponse(action Action, success bool, message string, payload interface{}) (*Envelope, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Action: action, Success: success, Message: message, Data: data}, nil
}

// Failure builds a failed response with an empty data object.
func Failure(action Action, message string) *Envelope {
	return &Envelope{Action: action, Success: false, Message: message, Data: emptyObject}
}

// NewNotification builds a push with the payload nested under a "data"
// key, so the client reads envelope.data.data.
func NewNotification(action Action, payload interface{}) (*Envelope, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(map[string]json.RawMessage{"data": inner})
	if err != nil {
		return nil, err
	}
	return &Envelope{Action: action, Data: data}, nil
}

func marshalData(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyObject, nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
