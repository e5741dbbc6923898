package server

import (
	"encoding/json"
	"fmt"

	"github.com/lotas/vidchat/internal/pagemeta"
	"github.com/lotas/vidchat/internal/types"
)

// Incoming message types.
const (
	TypeLocation = "location"
	TypeAction   = "action"
)

// Relay actions.
const (
	ActionToggleMinimize = "toggle-minimize"
	ActionSend           = "send"
)

// ParseIncoming decodes and validates one relay message.
func ParseIncoming(data []byte) (IncomingMsg, error) {
	var msg IncomingMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("parse message: %w", err)
	}
	switch msg.Type {
	case TypeLocation:
		if msg.URL == "" {
			return msg, fmt.Errorf("location message without url")
		}
	case TypeAction:
		if _, ok := msg.UserAction(); !ok {
			return msg, fmt.Errorf("unknown action %q", msg.Action)
		}
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// UserAction converts an action message into a panel action.
func (m IncomingMsg) UserAction() (types.Action, bool) {
	switch m.Action {
	case ActionToggleMinimize:
		return types.Action{Kind: types.ActionToggleMinimize}, true
	case ActionSend:
		return types.Action{Kind: types.ActionSendMessage, Text: m.Text}, true
	}
	return types.Action{}, false
}

// Page converts a location message into a page report.
func (m IncomingMsg) Page() pagemeta.Page {
	return pagemeta.Page{
		URL:         m.URL,
		Title:       m.Title,
		Description: m.Description,
		HTML:        m.HTML,
	}
}
