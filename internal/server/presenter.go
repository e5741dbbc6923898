package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/types"
)

// ErrUnknownHandle is returned for a handle that was never created or was
// already destroyed.
var ErrUnknownHandle = errors.New("unknown panel handle")

// Outgoing panel actions.
const (
	OutCreate     = "create"
	OutRender     = "render"
	OutAddMessage = "add-message"
	OutRemoveLast = "remove-last"
	OutClear      = "clear"
	OutDestroy    = "destroy"
)

type panelMessage struct {
	role types.Role
	text string
}

// panel mirrors what the relay shows so a reconnecting page can be rebuilt.
type panel struct {
	minimized bool
	messages  []panelMessage
}

func newMsg(action string, h types.Handle) OutgoingMsg {
	return OutgoingMsg{ID: uuid.NewString(), Action: action, Handle: h}
}

// CreateContainer creates a panel in the page.
func (s *Server) CreateContainer(minimized bool) (types.Handle, error) {
	h := types.Handle(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[h] = &panel{minimized: minimized}
	s.order = append(s.order, h)

	msg := newMsg(OutCreate, h)
	msg.Minimized = &minimized
	if err := s.send(msg); err != nil {
		return h, fmt.Errorf("create panel: %w", err)
	}
	return h, nil
}

// Render shows the panel minimized or expanded.
func (s *Server) Render(h types.Handle, minimized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[h]
	if !ok {
		return ErrUnknownHandle
	}
	p.minimized = minimized

	msg := newMsg(OutRender, h)
	msg.Minimized = &minimized
	return s.send(msg)
}

// AddMessage appends a message to the panel.
func (s *Server) AddMessage(h types.Handle, role types.Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[h]
	if !ok {
		return ErrUnknownHandle
	}
	p.messages = append(p.messages, panelMessage{role, text})

	msg := newMsg(OutAddMessage, h)
	msg.Role = role
	msg.Text = text
	return s.send(msg)
}

// RemoveLastMessage drops the newest message from the panel.
func (s *Server) RemoveLastMessage(h types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[h]
	if !ok {
		return ErrUnknownHandle
	}
	if n := len(p.messages); n > 0 {
		p.messages = p.messages[:n-1]
	}
	return s.send(newMsg(OutRemoveLast, h))
}

// ClearMessages empties the panel.
func (s *Server) ClearMessages(h types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[h]
	if !ok {
		return ErrUnknownHandle
	}
	p.messages = nil
	return s.send(newMsg(OutClear, h))
}

// Destroy removes the panel from the page.
func (s *Server) Destroy(h types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.panels[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.panels, h)
	for i, x := range s.order {
		if x == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.send(newMsg(OutDestroy, h))
}

// Actions returns user actions raised in the page.
func (s *Server) Actions() <-chan types.Action {
	return s.actions
}

// replay rebuilds every live panel on a fresh connection. Callers hold s.mu.
func (s *Server) replay() {
	for _, h := range s.order {
		p := s.panels[h]
		minimized := p.minimized
		create := newMsg(OutCreate, h)
		create.Minimized = &minimized
		if err := s.send(create); err != nil {
			applog.Error("ws.replay", err, "handle", h)
			return
		}
		for _, m := range p.messages {
			add := newMsg(OutAddMessage, h)
			add.Role = m.role
			add.Text = m.text
			if err := s.send(add); err != nil {
				applog.Error("ws.replay", err, "handle", h)
				return
			}
		}
	}
}
