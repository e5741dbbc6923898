package cdp

import "testing"

func TestChoosePage(t *testing.T) {
	tests := []struct {
		name string
		urls []string
		want int
	}{
		{"none", nil, -1},
		{"only internal", []string{"chrome://newtab/", "devtools://devtools/x"}, -1},
		{"first web page", []string{"chrome://newtab/", "https://example.com/", "https://example.org/"}, 1},
		{"video wins", []string{"https://example.com/", "https://www.youtube.com/watch?v=abc"}, 1},
		{"blank", []string{"about:blank"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := choosePage(tt.urls); got != tt.want {
				t.Errorf("choosePage(%v) = %d, want %d", tt.urls, got, tt.want)
			}
		})
	}
}
