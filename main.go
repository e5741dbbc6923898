package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/backend"
	"github.com/lotas/vidchat/internal/cdp"
	"github.com/lotas/vidchat/internal/chat"
	"github.com/lotas/vidchat/internal/config"
	"github.com/lotas/vidchat/internal/contextcache"
	"github.com/lotas/vidchat/internal/coordinator"
	"github.com/lotas/vidchat/internal/navigation"
	"github.com/lotas/vidchat/internal/pagemeta"
	"github.com/lotas/vidchat/internal/server"
	"github.com/lotas/vidchat/internal/storage"
	"github.com/lotas/vidchat/internal/tui"
	"github.com/lotas/vidchat/internal/video"
	"golang.org/x/sync/errgroup"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "attach":
		runAttach(args)
	case "prefs":
		runPrefs(args)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
}

func printHelp() {
	fmt.Print(`vidchat — chat about the video you are watching

Usage:
  vidchat [serve]                                     Serve the page relay (default)
    --port <n>             WebSocket port (default: 19192, env: VIDCHAT_PORT)

  vidchat attach                                      Follow a browser tab over CDP, chat in the terminal
    --control-url <url>    DevTools websocket URL (default: launch a browser)
    --browser <path>       Browser binary to launch
    --headless             Launch the browser headless
    --start-url <url>      Tab to open when the browser has none

  vidchat prefs                                       Show stored preferences
    --minimized=<bool>     Set the panel's minimized preference

Common flags:
  --config <path>          Config file (default: ~/.config/vidchat/config.yaml)
  --backend <url>          Transcript/chat service (default: http://localhost:8000, env: VIDCHAT_BACKEND)
  --timeout <dur>          Remote call timeout (default: 30s)
  --db <path>              Preferences database (env: VIDCHAT_DB)
  --log-dir <path>         Log directory (env: VIDCHAT_LOG_DIR)
  --greeting <text>        First message of every conversation
`)
}

// commonFlags registers the flags every command shares.
type commonFlags struct {
	configPath string
	backendURL string
	timeout    time.Duration
	dbPath     string
	logDir     string
	greeting   string
	port       int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Config file path")
	fs.StringVar(&c.backendURL, "backend", "", "Transcript/chat service URL")
	fs.DurationVar(&c.timeout, "timeout", 0, "Remote call timeout")
	fs.StringVar(&c.dbPath, "db", "", "Preferences database path")
	fs.StringVar(&c.logDir, "log-dir", "", "Log directory")
	fs.StringVar(&c.greeting, "greeting", "", "Greeting message")
	fs.IntVar(&c.port, "port", 0, "WebSocket port")
}

// resolve loads the config file and environment, then applies flags that
// were set explicitly.
func (c *commonFlags) resolve(fs *flag.FlagSet) config.Config {
	path, required := c.configPath, c.configPath != ""
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.BackendURL = c.backendURL
		case "timeout":
			cfg.RequestTimeout = c.timeout
		case "db":
			cfg.DBPath = c.dbPath
		case "log-dir":
			cfg.LogDir = c.logDir
		case "greeting":
			cfg.Greeting = c.greeting
		case "port":
			cfg.Port = c.port
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openDB(cfg config.Config) *sql.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func initLog(cfg config.Config) {
	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
}

// pipeline is everything between a page source and a presenter.
type pipeline struct {
	observer *navigation.Observer
	meta     *pagemeta.Store
	client   *backend.Client
	cache    *contextcache.Cache
}

func newPipeline(cfg config.Config) *pipeline {
	meta := pagemeta.NewStore()
	client := backend.New(cfg.BackendURL, cfg.RequestTimeout)
	return &pipeline{
		observer: navigation.NewObserver(),
		meta:     meta,
		client:   client,
		cache:    contextcache.New(client, meta),
	}
}

func (p *pipeline) coordinator(cfg config.Config, prefs *storage.Prefs, resolver video.Resolver, ui coordinator.Presenter) *coordinator.Coordinator {
	return coordinator.New(coordinator.Deps{
		Navigation: p.observer.Events(),
		Page:       resolver,
		Prefs:      prefs,
		Cache:      p.cache,
		Chat:       chat.New(p.client, p.cache, ui, resolver),
		UI:         ui,
		Greeting:   cfg.Greeting,
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)
	cfg := common.resolve(fs)

	initLog(cfg)
	defer applog.Close()
	db := openDB(cfg)
	defer db.Close()

	p := newPipeline(cfg)
	srv := server.New(cfg.Port, p.observer, p.meta)
	resolver := video.Resolver{Page: srv, Clock: srv}
	coord := p.coordinator(cfg, storage.NewPrefs(db), resolver, srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "vidchat listening on 127.0.0.1:%d (backend %s)\n", cfg.Port, cfg.BackendURL)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return ignoreCanceled(coord.Run(ctx)) })
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	controlURL := fs.String("control-url", "", "DevTools websocket URL")
	browserBin := fs.String("browser", "", "Browser binary to launch")
	headless := fs.Bool("headless", false, "Launch the browser headless")
	startURL := fs.String("start-url", "https://www.youtube.com/", "Tab to open when the browser has none")
	fs.Parse(args)
	cfg := common.resolve(fs)
	if *controlURL != "" {
		cfg.ControlURL = *controlURL
	}

	initLog(cfg)
	defer applog.Close()
	db := openDB(cfg)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPipeline(cfg)
	src, err := cdp.Attach(ctx, cdp.Options{
		ControlURL: cfg.ControlURL,
		Bin:        *browserBin,
		Headless:   *headless,
		StartURL:   *startURL,
	}, p.observer, p.meta)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	resolver := video.Resolver{Page: src, Clock: src}
	presenter := tui.NewPresenter()
	prog := tea.NewProgram(presenter.Model(resolver), tea.WithAltScreen())
	presenter.Attach(prog)
	coord := p.coordinator(cfg, storage.NewPrefs(db), resolver, presenter)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(src.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(coord.Run(gctx)) })
	go func() {
		<-gctx.Done()
		prog.Quit()
	}()

	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cancel()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runPrefs(args []string) {
	fs := flag.NewFlagSet("prefs", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	minimized := fs.String("minimized", "", "Set the minimized preference (true/false)")
	fs.Parse(args)
	cfg := common.resolve(fs)

	db := openDB(cfg)
	defer db.Close()
	prefs := storage.NewPrefs(db)

	if *minimized != "" {
		v, err := strconv.ParseBool(*minimized)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: --minimized: %v\n", err)
			os.Exit(1)
		}
		if err := prefs.SetMinimized(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("%s: %t\n", storage.MinimizedKey, prefs.GetMinimized())
}
