// Package pagemeta derives a video's title and description from what the
// page reports about itself.
package pagemeta

import (
	"net/url"
	"strings"
	"sync"

	readability "github.com/go-shiori/go-readability"
	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/types"
	"github.com/lotas/vidchat/internal/video"
)

// Page is one report from the page: its URL, document title, the text of the
// description element, and optionally the raw document HTML.
type Page struct {
	URL         string
	Title       string
	Description string
	HTML        string
}

// Extract returns the page's title and description. Explicit fields win;
// when one is missing and HTML is present, readability fills the gap.
func Extract(p Page) (title, description string) {
	title = strings.TrimSpace(p.Title)
	description = strings.TrimSpace(p.Description)
	if (title != "" && description != "") || p.HTML == "" {
		return title, description
	}

	var pageURL *url.URL
	if u, err := url.Parse(p.URL); err == nil {
		pageURL = u
	}
	article, err := readability.FromReader(strings.NewReader(p.HTML), pageURL)
	if err != nil {
		applog.Error("pagemeta.readability", err, "url", p.URL)
		return title, description
	}
	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	if description == "" {
		description = strings.TrimSpace(article.Excerpt)
	}
	return title, description
}

// Store remembers the latest page report and serves it as metadata.
type Store struct {
	mu   sync.Mutex
	page Page
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Update records the latest page report.
func (s *Store) Update(p Page) {
	s.mu.Lock()
	s.page = p
	s.mu.Unlock()
}

// URL returns the URL of the latest report.
func (s *Store) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.URL
}

// Metadata describes id using the latest report, if that report is for id.
// A report for another page yields metadata carrying only the id.
func (s *Store) Metadata(id types.VideoID) types.Metadata {
	s.mu.Lock()
	p := s.page
	s.mu.Unlock()

	m := types.Metadata{VideoID: id}
	if got, ok := video.Identity(p.URL); !ok || got != id {
		return m
	}
	m.Title, m.Description = Extract(p)
	return m
}
