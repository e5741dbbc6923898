// Package coordinator drives the chat panel through the page's video
// lifecycle: it shows the panel on video pages, resets it when the video
// changes, and removes it when the page stops showing a video.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/chat"
	"github.com/lotas/vidchat/internal/contextcache"
	"github.com/lotas/vidchat/internal/metrics"
	"github.com/lotas/vidchat/internal/navigation"
	"github.com/lotas/vidchat/internal/types"
)

// DefaultGreeting is posted whenever a panel starts a conversation.
const DefaultGreeting = "Hello! I can help you understand this video better. Ask me anything!"

// Presenter renders the chat panel.
type Presenter interface {
	CreateContainer(minimized bool) (types.Handle, error)
	Render(h types.Handle, minimized bool) error
	AddMessage(h types.Handle, role types.Role, text string) error
	RemoveLastMessage(h types.Handle) error
	ClearMessages(h types.Handle) error
	Destroy(h types.Handle) error
	Actions() <-chan types.Action
}

// Preferences persists the minimized flag.
type Preferences interface {
	GetMinimized() bool
	SetMinimized(minimized bool) error
}

// ContextCache is the part of the context cache the coordinator drives.
type ContextCache interface {
	EnsureLoaded(ctx context.Context, id types.VideoID) (*types.ContextPayload, error)
	Invalidate()
}

// PageInfo classifies the page as it is right now.
type PageInfo interface {
	IsVideoPage() bool
	CurrentIdentity() (types.VideoID, bool)
}

// Deps are the collaborators a Coordinator is built from.
type Deps struct {
	Navigation <-chan navigation.Event
	Page       PageInfo
	Prefs      Preferences
	Cache      ContextCache
	Chat       *chat.Session
	UI         Presenter
	Greeting   string // DefaultGreeting when empty
}

// loadDoneMsg reports a finished EnsureLoaded back to the loop.
type loadDoneMsg struct {
	gen        uint64
	id         types.VideoID
	activation bool
	err        error
}

// Coordinator owns the panel lifecycle. All transitions run on the Run
// goroutine.
type Coordinator struct {
	nav      <-chan navigation.Event
	page     PageInfo
	prefs    Preferences
	cache    ContextCache
	chat     *chat.Session
	ui       Presenter
	greeting string

	loads chan loadDoneMsg
	wg    sync.WaitGroup

	// loop-owned
	handle     types.Handle
	activating bool
	gen        uint64

	mu      sync.Mutex
	state   types.UIState
	tracked types.VideoID
}

// New creates a Coordinator. Nothing happens until Run.
func New(d Deps) *Coordinator {
	greeting := d.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Coordinator{
		nav:      d.Navigation,
		page:     d.Page,
		prefs:    d.Prefs,
		cache:    d.Cache,
		chat:     d.Chat,
		ui:       d.UI,
		greeting: greeting,
		loads:    make(chan loadDoneMsg, 4),
	}
}

// State returns the current panel state.
func (c *Coordinator) State() types.UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tracked returns the video the panel is currently about.
func (c *Coordinator) Tracked() types.VideoID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}

// Run evaluates the current page, then handles navigation events, panel
// actions and load completions until ctx is done or the navigation channel
// closes. The panel is destroyed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.deactivate()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.chat.Run(ctx)
	}()

	applog.Info("coordinator.start")
	c.evaluate(ctx)

	actions := c.ui.Actions()
	for {
		select {
		case <-ctx.Done():
			applog.Info("coordinator.stop")
			return ctx.Err()
		case ev, ok := <-c.nav:
			if !ok {
				applog.Info("coordinator.stop", "reason", "navigation closed")
				return nil
			}
			applog.Info("coordinator.navigated", "url", ev.URL)
			c.evaluate(ctx)
		case a := <-actions:
			c.handleAction(a)
		case msg := <-c.loads:
			c.loadDone(ctx, msg)
		}
	}
}

// evaluate applies the transition for the page's current classification.
func (c *Coordinator) evaluate(ctx context.Context) {
	if !c.page.IsVideoPage() {
		if c.activating {
			// Left the video page before the panel was created.
			c.gen++
			c.activating = false
			c.cache.Invalidate()
			applog.Info("coordinator.activate.abort")
			return
		}
		if c.State().Present {
			c.deactivate()
		}
		return
	}

	id, _ := c.page.CurrentIdentity()
	switch {
	case c.activating:
		// The completion re-checks the identity.
	case !c.State().Present:
		c.activate(ctx, id)
	case id != c.Tracked():
		c.switchVideo(ctx, id)
	}
}

// activate starts loading id; the panel is created once the load settles.
func (c *Coordinator) activate(ctx context.Context, id types.VideoID) {
	c.gen++
	c.activating = true
	applog.Info("coordinator.activate", "video", id)
	c.startLoad(ctx, id, true)
}

func (c *Coordinator) startLoad(ctx context.Context, id types.VideoID, activation bool) {
	gen := c.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := c.cache.EnsureLoaded(ctx, id)
		select {
		case c.loads <- loadDoneMsg{gen: gen, id: id, activation: activation, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) loadDone(ctx context.Context, msg loadDoneMsg) {
	switch {
	case errors.Is(msg.err, contextcache.ErrInvalidated):
		applog.Info("coordinator.load.discarded", "video", msg.id)
	case msg.err != nil:
		// The panel still works, with chat answered without context.
		applog.Error("coordinator.load", msg.err, "video", msg.id)
	default:
		applog.Info("coordinator.load.ready", "video", msg.id)
	}

	if !msg.activation || msg.gen != c.gen || !c.activating {
		return
	}
	c.activating = false

	if !c.page.IsVideoPage() {
		c.cache.Invalidate()
		return
	}

	minimized := c.prefs.GetMinimized()
	h, err := c.ui.CreateContainer(minimized)
	if err != nil {
		applog.Error("coordinator.create", err, "video", msg.id)
		c.cache.Invalidate()
		return
	}
	c.handle = h
	c.setState(types.UIState{Present: true, Minimized: minimized}, msg.id)
	metrics.WidgetPresent.Set(1)
	c.chat.Reset(msg.id)
	c.addGreeting()
	applog.Info("coordinator.active", "video", msg.id, "handle", h, "minimized", minimized)

	// Navigated to another video while loading.
	if current, _ := c.page.CurrentIdentity(); current != msg.id {
		c.switchVideo(ctx, current)
	}
}

// switchVideo resets the active panel for a new video.
func (c *Coordinator) switchVideo(ctx context.Context, id types.VideoID) {
	prev := c.Tracked()
	applog.Info("coordinator.switch", "from", prev, "to", id)

	c.cache.Invalidate()
	c.gen++
	c.startLoad(ctx, id, false)

	c.chat.Reset(id)
	if err := c.ui.ClearMessages(c.handle); err != nil {
		applog.Error("coordinator.clear", err, "handle", c.handle)
	}
	c.addGreeting()

	c.mu.Lock()
	c.tracked = id
	c.mu.Unlock()
}

// deactivate destroys the panel, if any, and empties the cache.
func (c *Coordinator) deactivate() {
	if !c.State().Present {
		return
	}
	prev := c.Tracked()
	if err := c.ui.Destroy(c.handle); err != nil {
		applog.Error("coordinator.destroy", err, "handle", c.handle)
	}
	c.handle = ""
	c.gen++
	c.cache.Invalidate()
	c.chat.Reset("")
	c.setState(types.UIState{}, "")
	metrics.WidgetPresent.Set(0)
	applog.Info("coordinator.inactive", "video", prev)
}

func (c *Coordinator) handleAction(a types.Action) {
	st := c.State()
	if !st.Present {
		applog.Info("coordinator.action.ignored", "kind", int(a.Kind))
		return
	}

	switch a.Kind {
	case types.ActionToggleMinimize:
		st.Minimized = !st.Minimized
		if err := c.prefs.SetMinimized(st.Minimized); err != nil {
			applog.Error("coordinator.prefs", err)
		}
		if err := c.ui.Render(c.handle, st.Minimized); err != nil {
			applog.Error("coordinator.render", err, "handle", c.handle)
		}
		c.mu.Lock()
		c.state.Minimized = st.Minimized
		c.mu.Unlock()
		applog.Info("coordinator.toggle", "minimized", st.Minimized)
	case types.ActionSendMessage:
		c.chat.Enqueue(c.handle, a.Text)
	}
}

func (c *Coordinator) addGreeting() {
	if err := c.ui.AddMessage(c.handle, types.RoleAI, c.greeting); err != nil {
		applog.Error("coordinator.greet", err, "handle", c.handle)
	}
}

func (c *Coordinator) setState(st types.UIState, tracked types.VideoID) {
	c.mu.Lock()
	c.state = st
	c.tracked = tracked
	c.mu.Unlock()
}
