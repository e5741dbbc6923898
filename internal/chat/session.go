// Package chat turns user questions into chat calls grounded on the cached
// video context.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/backend"
	"github.com/lotas/vidchat/internal/metrics"
	"github.com/lotas/vidchat/internal/types"
	"github.com/lotas/vidchat/internal/video"
)

const (
	// Placeholder is shown while a chat call is in flight.
	Placeholder = "Loading..."
	// ErrorReply replaces the placeholder when a chat call fails.
	ErrorReply = "Sorry, I encountered an error. Please try again."
)

// Asker sends a question to the chat service.
type Asker interface {
	Chat(ctx context.Context, req backend.ChatRequest) (string, error)
}

// ContextSource exposes the current cache entry.
type ContextSource interface {
	Snapshot() types.CacheEntry
}

// Messenger is the part of the chat panel a session writes to.
type Messenger interface {
	AddMessage(h types.Handle, role types.Role, text string) error
	RemoveLastMessage(h types.Handle) error
}

// Clock reports the playback position. Optional.
type Clock interface {
	CurrentTimestamp() video.Timestamp
}

// Session asks one question at a time, in the order they were asked. Reset
// drops answers and queued questions from before it.
type Session struct {
	asker Asker
	cache ContextSource
	ui    Messenger
	clock Clock

	sendMu sync.Mutex // one question in flight
	ready  chan struct{}

	mu    sync.Mutex
	video types.VideoID
	epoch uint64
	queue []question
}

// question is pinned to the video and epoch current when it was asked.
type question struct {
	h     types.Handle
	text  string
	video types.VideoID
	epoch uint64
}

// New creates a Session. clock may be nil.
func New(asker Asker, cache ContextSource, ui Messenger, clock Clock) *Session {
	return &Session{asker: asker, cache: cache, ui: ui, clock: clock, ready: make(chan struct{}, 1)}
}

// Reset points the session at id. Answers still in flight and queued
// questions are dropped.
func (s *Session) Reset(id types.VideoID) {
	s.mu.Lock()
	s.video = id
	s.epoch++
	s.queue = nil
	s.mu.Unlock()
}

// Video returns the id questions are currently asked about.
func (s *Session) Video() types.VideoID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// pin trims message and ties it to the current video. ok is false for blank
// messages.
func (s *Session) pin(h types.Handle, message string) (q question, ok bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return question{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return question{h: h, text: message, video: s.video, epoch: s.epoch}, true
}

// Enqueue queues message for Run without blocking. Blank messages are
// ignored.
func (s *Session) Enqueue(h types.Handle, message string) {
	q, ok := s.pin(h, message)
	if !ok {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, q)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Session) next() (question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return question{}, false
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, true
}

// Run asks queued questions in order until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ready:
		}
		for {
			q, ok := s.next()
			if !ok {
				break
			}
			s.ask(ctx, q)
		}
	}
}

// Send asks message about the current video and shows the exchange on h.
// Blank messages are ignored. Failures surface as ErrorReply, never as an
// error to the caller.
func (s *Session) Send(ctx context.Context, h types.Handle, message string) {
	if q, ok := s.pin(h, message); ok {
		s.ask(ctx, q)
	}
}

func (s *Session) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch
}

func (s *Session) ask(ctx context.Context, q question) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	h, id := q.h, q.video
	if s.stale(q.epoch) {
		applog.Info("chat.drop", "video", id)
		return
	}

	s.add(h, types.RoleUser, q.text)
	s.add(h, types.RoleAI, Placeholder)

	req := s.request(id, q.text)
	if s.clock != nil {
		ts := s.clock.CurrentTimestamp()
		applog.Info("chat.send", "video", id, "at", ts.Formatted, "segments", len(req.Transcript))
	} else {
		applog.Info("chat.send", "video", id, "segments", len(req.Transcript))
	}

	answer, err := s.asker.Chat(ctx, req)

	if s.stale(q.epoch) {
		applog.Info("chat.discard", "video", id)
		return
	}

	if err := s.ui.RemoveLastMessage(h); err != nil {
		applog.Error("chat.ui", err, "op", "remove-last")
	}
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("error").Inc()
		applog.Error("chat.send", err, "video", id)
		s.add(h, types.RoleAI, ErrorReply)
		return
	}
	metrics.ChatRequestsTotal.WithLabelValues("ok").Inc()
	applog.Info("chat.answer", "video", id, "len", len(answer))
	s.add(h, types.RoleAI, answer)
}

// request builds the chat body. Without a ready context for id it carries
// an empty transcript and metadata holding only the id.
func (s *Session) request(id types.VideoID, question string) backend.ChatRequest {
	req := backend.ChatRequest{
		VideoID:    id,
		Question:   question,
		Transcript: []types.Segment{},
		Metadata:   types.Metadata{VideoID: id},
	}
	entry := s.cache.Snapshot()
	if entry.State == types.CacheReady && entry.VideoID == id && entry.Payload != nil {
		req.Transcript = entry.Payload.Transcript
		req.Metadata = entry.Payload.Metadata
	}
	return req
}

func (s *Session) add(h types.Handle, role types.Role, text string) {
	if err := s.ui.AddMessage(h, role, text); err != nil {
		applog.Error("chat.ui", err, "op", "add-message")
	}
}
