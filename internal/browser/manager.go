package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tabbridge/internal/config"
	"tabbridge/internal/router"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNotConnected is returned by lookups made before Start or after Shutdown.
var ErrNotConnected = errors.New("browser not connected")

const probeTimeout = 2 * time.Second

// TabInfo describes one page target as seen by the active-tab probe.
type TabInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Focused  bool   `json:"focused"`
	Visible  bool   `json:"visible"`
}

// Manager owns the Chrome connection and resolves the active tab for each
// action. It holds no per-tab state: tabs are looked up fresh every time.
type Manager struct {
	cfg config.BrowserConfig

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   bool
	cancel     context.CancelFunc
}

func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		log.Printf("[browser] stale browser connection detected, reconnecting...")
		m.releaseLocked()
	}

	controlURL := m.cfg.DebuggerURL
	launched := false
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := launch(m.cfg.Launch, m.cfg.IsHeadless())
		if err != nil {
			return err
		}
		controlURL = url
		launched = true
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().ControlURL(controlURL).Context(connCtx)
	if err := b.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.controlURL = controlURL
	m.launched = launched
	m.cancel = cancel
	log.Printf("[browser] connected at %s (launched=%v)", controlURL, launched)
	return nil
}

func launch(command []string, headless bool) (string, error) {
	bin := command[0]
	l := launcher.New().Bin(bin).Headless(headless)
	for _, rawFlag := range command[1:] {
		name, val, hasVal := parseFlag(rawFlag)
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}

	// Fallback: let Rod pick the port and defaults.
	alt, altErr := launcher.New().Bin(bin).Headless(headless).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// parseFlag splits "--name=value" into its parts.
func parseFlag(raw string) (name, val string, hasVal bool) {
	flagStr := strings.TrimLeft(raw, "-")
	return strings.Cut(flagStr, "=")
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown releases the browser. A Chrome we launched is closed; an attached
// one is only disconnected so the user's browser keeps running.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.releaseLocked()
	log.Printf("[browser] shutdown complete")
	return err
}

func (m *Manager) releaseLocked() error {
	var err error
	if m.browser != nil && m.launched {
		err = m.browser.Close()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.browser = nil
	m.controlURL = ""
	m.launched = false
	m.cancel = nil
	return err
}

func (m *Manager) current() (*rod.Browser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return nil, ErrNotConnected
	}
	return m.browser, nil
}

// ActiveTab resolves the tab actions apply to: the pinned target when
// configured, else the first focused page, else the first visible one.
func (m *Manager) ActiveTab(ctx context.Context) (router.Tab, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}

	if m.cfg.TargetID != "" {
		page, err := b.PageFromTarget(proto.TargetTargetID(m.cfg.TargetID))
		if err != nil {
			return nil, fmt.Errorf("%w: pinned target %s: %v", router.ErrNoActiveTab, m.cfg.TargetID, err)
		}
		return m.newTab(b, page), nil
	}

	pages, infos, err := m.probe(ctx, b)
	if err != nil {
		return nil, err
	}
	idx := pickActive(infos)
	if idx < 0 {
		return nil, router.ErrNoActiveTab
	}
	return m.newTab(b, pages[idx]), nil
}

// Tabs lists every page target with its focus and visibility.
func (m *Manager) Tabs(ctx context.Context) ([]TabInfo, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}
	_, infos, err := m.probe(ctx, b)
	return infos, err
}

func (m *Manager) probe(ctx context.Context, b *rod.Browser) (rod.Pages, []TabInfo, error) {
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, nil, fmt.Errorf("list pages: %w", err)
	}

	infos := make([]TabInfo, len(pages))
	for i, page := range pages {
		infos[i] = TabInfo{TargetID: string(page.TargetID)}

		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		var state struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Focused bool   `json:"focused"`
			Visible bool   `json:"visible"`
		}
		err := evalInto(page.Context(pctx), jsPageState, &state)
		cancel()
		if err != nil {
			// A page stuck on a dialog or still navigating cannot be the active tab.
			log.Printf("[browser] probe %s failed: %v", page.TargetID, err)
			continue
		}
		infos[i].URL, infos[i].Title = state.URL, state.Title
		infos[i].Focused, infos[i].Visible = state.Focused, state.Visible
	}
	return pages, infos, nil
}

// pickActive returns the index of the first focused tab, else the first
// visible tab, else -1.
func pickActive(infos []TabInfo) int {
	for i, info := range infos {
		if info.Focused {
			return i
		}
	}
	for i, info := range infos {
		if info.Visible {
			return i
		}
	}
	return -1
}

func (m *Manager) newTab(b *rod.Browser, page *rod.Page) *Tab {
	return &Tab{browser: b, page: page, attachTimeout: m.cfg.AttachTimeout()}
}
