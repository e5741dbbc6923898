// Package cdp attaches to a Chromium tab over the DevTools protocol and
// reports its navigation, playback position and metadata.
package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/navigation"
	"github.com/lotas/vidchat/internal/pagemeta"
	"github.com/lotas/vidchat/internal/video"
)

const (
	mediaTimeJS = `() => {
		const v = document.querySelector('video');
		return v ? v.currentTime : null;
	}`
	pageInfoJS = `() => {
		const d = document.querySelector('#description-inner');
		return { title: document.title || '', description: d ? d.textContent : '' };
	}`
)

// Options selects the browser to attach to.
type Options struct {
	ControlURL string // DevTools websocket URL; launch a browser when empty
	Bin        string // browser binary for launching
	Headless   bool
	StartURL   string // opened when the browser has no tabs
}

// Source follows one browser tab.
type Source struct {
	browser  *rod.Browser
	page     *rod.Page
	observer *navigation.Observer
	meta     *pagemeta.Store
	urls     chan string

	mu  sync.Mutex
	url string
}

// Attach connects to the browser and picks the tab to follow: the first tab
// showing a video, else the first tab.
func Attach(ctx context.Context, opts Options, observer *navigation.Observer, meta *pagemeta.Store) (*Source, error) {
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := pickPage(browser, opts.StartURL)
	if err != nil {
		browser.Close()
		return nil, err
	}
	applog.Info("cdp.attached", "control", controlURL, "frame", page.FrameID)

	return &Source{
		browser:  browser,
		page:     page,
		observer: observer,
		meta:     meta,
		urls:     make(chan string, 16),
	}, nil
}

func pickPage(browser *rod.Browser, startURL string) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	urls := make([]string, len(pages))
	for i, p := range pages {
		if info, err := p.Info(); err == nil {
			urls[i] = info.URL
		}
	}
	if i := choosePage(urls); i >= 0 {
		return pages[i], nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return page, nil
}

// choosePage returns the index of the first video page, else 0, or -1 when
// there are no pages. Extension and devtools pages are skipped.
func choosePage(urls []string) int {
	first := -1
	for i, u := range urls {
		if !isWebPage(u) {
			continue
		}
		if video.IsVideoPage(u) {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func isWebPage(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || u == "about:blank"
}

// Run reports the current location, then every main-frame navigation,
// until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	page := s.page.Context(ctx)
	if info, err := page.Info(); err == nil {
		s.report(ctx, info.URL)
	}

	wait := page.EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame.ParentID == "" {
				s.enqueue(ev.Frame.URL)
			}
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			if ev.FrameID == s.page.FrameID {
				s.enqueue(ev.URL)
			}
		},
	)
	go wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.urls:
			s.report(ctx, u)
		}
	}
}

func (s *Source) enqueue(u string) {
	select {
	case s.urls <- u:
	default:
		applog.Info("cdp.nav.dropped", "url", u)
	}
}

// report captures metadata for u and hands the location to the observer.
func (s *Source) report(ctx context.Context, u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()

	p := pagemeta.Page{URL: u}
	if res, err := s.page.Context(ctx).Eval(pageInfoJS); err == nil {
		p.Title = res.Value.Get("title").Str()
		p.Description = res.Value.Get("description").Str()
	} else {
		applog.Error("cdp.pageinfo", err, "url", u)
	}
	if p.Description == "" && video.IsVideoPage(u) {
		if html, err := s.page.Context(ctx).HTML(); err == nil {
			p.HTML = html
		}
	}
	s.meta.Update(p)
	s.observer.Observe(u)
}

// URL returns the tab's last reported location.
func (s *Source) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// CurrentTime reads the video element's playback position.
func (s *Source) CurrentTime() (float64, bool) {
	res, err := s.page.Eval(mediaTimeJS)
	if err != nil {
		applog.Error("cdp.mediatime", err)
		return 0, false
	}
	if res.Value.Nil() {
		return 0, false
	}
	return res.Value.Num(), true
}

// Close disconnects from the browser.
func (s *Source) Close() error {
	return s.browser.Close()
}
