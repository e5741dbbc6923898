// Package video classifies page URLs and reads the playback position.
package video

import (
	"fmt"
	"math"
	"net/url"

	"github.com/lotas/vidchat/internal/types"
)

const (
	watchPath   = "/watch"
	identityKey = "v"
)

// Page exposes the page's current location.
type Page interface {
	URL() string
}

// MediaClock exposes the active media element's playback position.
// ok is false when the page has no media element.
type MediaClock interface {
	CurrentTime() (seconds float64, ok bool)
}

// Timestamp is a playback position in whole seconds.
type Timestamp struct {
	Raw       int
	Formatted string
}

// IsVideoPage reports whether rawURL is a watch page carrying an identity.
func IsVideoPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path == watchPath && u.Query().Has(identityKey)
}

// Identity returns the video id of rawURL, or false when it is not a video page.
func Identity(rawURL string) (types.VideoID, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path != watchPath {
		return "", false
	}
	q := u.Query()
	if !q.Has(identityKey) {
		return "", false
	}
	return types.VideoID(q.Get(identityKey)), true
}

// FormatTimestamp renders whole seconds as M:SS.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Resolver answers identity and timestamp questions about a live page.
type Resolver struct {
	Page  Page
	Clock MediaClock // may be nil
}

// IsVideoPage classifies the page's current URL.
func (r Resolver) IsVideoPage() bool {
	return IsVideoPage(r.Page.URL())
}

// CurrentIdentity returns the id of the page's current video, if any.
func (r Resolver) CurrentIdentity() (types.VideoID, bool) {
	return Identity(r.Page.URL())
}

// CurrentTimestamp reads the playback position, floored to whole seconds.
// A missing media element reads as 0.
func (r Resolver) CurrentTimestamp() Timestamp {
	var secs float64
	if r.Clock != nil {
		if t, ok := r.Clock.CurrentTime(); ok && !math.IsNaN(t) && !math.IsInf(t, 0) && t > 0 {
			secs = t
		}
	}
	raw := int(math.Floor(secs))
	return Timestamp{Raw: raw, Formatted: FormatTimestamp(raw)}
}
