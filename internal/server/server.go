package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/navigation"
	"github.com/lotas/vidchat/internal/pagemeta"
	"github.com/lotas/vidchat/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// IncomingMsg is a message from the page relay.
type IncomingMsg struct {
	Type string `json:"type"`
	// location
	URL         string   `json:"url,omitempty"`
	VideoTime   *float64 `json:"videoTime,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	HTML        string   `json:"html,omitempty"`
	// action
	Action string `json:"action,omitempty"`
	Text   string `json:"text,omitempty"`
}

// OutgoingMsg is a panel command sent to the page relay.
type OutgoingMsg struct {
	ID        string       `json:"id"`
	Action    string       `json:"action"`
	Handle    types.Handle `json:"handle"`
	Minimized *bool        `json:"minimized,omitempty"`
	Role      types.Role   `json:"role,omitempty"`
	Text      string       `json:"text,omitempty"`
}

// Server manages the WebSocket connection to the page relay. It feeds
// location reports to the navigation observer and renders the chat panel
// back into the page.
type Server struct {
	port     int
	observer *navigation.Observer
	meta     *pagemeta.Store
	actions  chan types.Action

	mu        sync.Mutex
	conn      *websocket.Conn
	connCtx   context.Context
	videoTime *float64
	panels    map[types.Handle]*panel
	order     []types.Handle
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int, observer *navigation.Observer, meta *pagemeta.Store) *Server {
	return &Server{
		port:     port,
		observer: observer,
		meta:     meta,
		actions:  make(chan types.Action, 64),
		panels:   make(map[types.Handle]*panel),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Connected reports whether a page relay is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// URL returns the page's last reported location.
func (s *Server) URL() string {
	return s.meta.URL()
}

// CurrentTime returns the last reported playback position.
func (s *Server) CurrentTime() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoTime == nil {
		return 0, false
	}
	return *s.videoTime, true
}

// send writes msg to the connected relay. Callers hold s.mu.
func (s *Server) send(msg OutgoingMsg) error {
	if s.conn == nil {
		return nil
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID, "handle", msg.Handle)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.connCtx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("websocket accept: %v", err)
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // location reports may carry the page HTML

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.replay()
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msg, err := ParseIncoming(data)
			if err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "action", msg.Action)
			s.handle(msg)
		}
	})
}

func (s *Server) handle(msg IncomingMsg) {
	switch msg.Type {
	case TypeLocation:
		s.mu.Lock()
		s.videoTime = msg.VideoTime
		s.mu.Unlock()
		s.meta.Update(msg.Page())
		s.observer.Observe(msg.URL)
	case TypeAction:
		a, _ := msg.UserAction()
		select {
		case s.actions <- a:
		default:
			applog.Info("ws.action.dropped", "action", msg.Action)
		}
	}
}

// Mux serves the relay socket on / and Prometheus metrics on /metrics.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
