package protocol

import "encoding/json"

// NoActiveTabMessage is the fixed error text sent when no tab can be resolved.
const NoActiveTabMessage = "No active tab found."

// Envelope is one outbound reply. Exactly one of data or error is encoded.
type Envelope struct {
	Action string
	Data   any
	Error  string

	noActiveTab bool
}

// Success wraps a handler result.
func Success(action string, data any) Envelope {
	return Envelope{Action: action, Data: data}
}

// Failure wraps a handler or validation error.
func Failure(action string, err error) Envelope {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Envelope{Action: action, Error: msg}
}

// NoActiveTab is the precondition failure envelope. Its shape predates the
// action echo and is kept for existing controllers.
func NoActiveTab() Envelope {
	return Envelope{Error: NoActiveTabMessage, noActiveTab: true}
}

// IsError reports whether the envelope carries an error.
func (e Envelope) IsError() bool {
	return e.Error != "" || e.noActiveTab
}

// IsNoActiveTab reports whether this is the precondition failure envelope.
func (e Envelope) IsNoActiveTab() bool {
	return e.noActiveTab
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.noActiveTab {
		return json.Marshal(struct {
			Screenshot *string `json:"screenshot"`
			Error      string  `json:"error"`
		}{nil, e.Error})
	}
	if e.Error != "" {
		return json.Marshal(struct {
			Action string `json:"action"`
			Error  string `json:"error"`
		}{e.Action, e.Error})
	}
	return json.Marshal(struct {
		Action string `json:"action"`
		Data   any    `json:"data"`
	}{e.Action, e.Data})
}
