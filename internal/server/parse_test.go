package server

import (
	"testing"

	"github.com/lotas/vidchat/internal/types"
)

func TestParseIncomingLocation(t *testing.T) {
	raw := `{"type":"location","url":"https://www.youtube.com/watch?v=abc","videoTime":12.5,"title":"T","description":"D"}`
	msg, err := ParseIncoming([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if msg.VideoTime == nil || *msg.VideoTime != 12.5 {
		t.Errorf("videoTime = %v", msg.VideoTime)
	}
	p := msg.Page()
	if p.URL != "https://www.youtube.com/watch?v=abc" || p.Title != "T" || p.Description != "D" {
		t.Errorf("page = %+v", p)
	}
}

func TestParseIncomingActions(t *testing.T) {
	tests := []struct {
		raw  string
		want types.Action
	}{
		{`{"type":"action","action":"toggle-minimize"}`, types.Action{Kind: types.ActionToggleMinimize}},
		{`{"type":"action","action":"send","text":"hi"}`, types.Action{Kind: types.ActionSendMessage, Text: "hi"}},
	}
	for _, tt := range tests {
		msg, err := ParseIncoming([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		got, ok := msg.UserAction()
		if !ok || got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestParseIncomingRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"snapshot"}`,
		`{"type":"location"}`,
		`{"type":"action","action":"close"}`,
	} {
		if _, err := ParseIncoming([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", raw)
		}
	}
}
