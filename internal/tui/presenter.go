package tui

import (
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/lotas/vidchat/internal/types"
)

var (
	// ErrUnknownHandle is returned for a handle that is not on screen.
	ErrUnknownHandle = errors.New("unknown panel handle")
	// ErrNotAttached is returned before Attach.
	ErrNotAttached = errors.New("presenter not attached to a program")
)

// Sender delivers messages to a running program; *tea.Program is one.
type Sender interface {
	Send(msg tea.Msg)
}

// Presenter drives the terminal panel from outside the bubbletea loop.
type Presenter struct {
	actions chan types.Action

	mu      sync.Mutex
	out     Sender
	handles map[types.Handle]bool
}

// NewPresenter creates a Presenter. Call Model for the program's model and
// Attach once the program exists.
func NewPresenter() *Presenter {
	return &Presenter{
		actions: make(chan types.Action, 16),
		handles: make(map[types.Handle]bool),
	}
}

// Model returns a panel model wired to this presenter's actions.
func (p *Presenter) Model(clock Clock) Model {
	return NewModel(p.actions, clock)
}

// Attach sets the program that receives panel updates.
func (p *Presenter) Attach(out Sender) {
	p.mu.Lock()
	p.out = out
	p.mu.Unlock()
}

func (p *Presenter) deliver(h types.Handle, msg tea.Msg) error {
	p.mu.Lock()
	out := p.out
	known := p.handles[h]
	p.mu.Unlock()
	if out == nil {
		return ErrNotAttached
	}
	if !known {
		return ErrUnknownHandle
	}
	out.Send(msg)
	return nil
}

func (p *Presenter) CreateContainer(minimized bool) (types.Handle, error) {
	h := types.Handle(uuid.NewString())
	p.mu.Lock()
	out := p.out
	if out != nil {
		p.handles[h] = true
	}
	p.mu.Unlock()
	if out == nil {
		return "", ErrNotAttached
	}
	out.Send(createMsg{handle: h, minimized: minimized})
	return h, nil
}

func (p *Presenter) Render(h types.Handle, minimized bool) error {
	return p.deliver(h, renderMsg{handle: h, minimized: minimized})
}

func (p *Presenter) AddMessage(h types.Handle, role types.Role, text string) error {
	return p.deliver(h, addMessageMsg{handle: h, role: role, text: text})
}

func (p *Presenter) RemoveLastMessage(h types.Handle) error {
	return p.deliver(h, removeLastMsg{handle: h})
}

func (p *Presenter) ClearMessages(h types.Handle) error {
	return p.deliver(h, clearMsg{handle: h})
}

func (p *Presenter) Destroy(h types.Handle) error {
	if err := p.deliver(h, destroyMsg{handle: h}); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.handles, h)
	p.mu.Unlock()
	return nil
}

// Actions returns keys pressed in the panel, as actions.
func (p *Presenter) Actions() <-chan types.Action {
	return p.actions
}
