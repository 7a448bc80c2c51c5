package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// DOM hooks of WhatsApp Web.
const (
	selectorSearchBox    = `#side [role="textbox"][contenteditable="true"]`
	selectorSearchResult = `div[data-testid="cell-frame-container"]`
	selectorListOption   = `div[role="listbox"] div[role="option"]`
	selectorMessage      = `[data-pre-plain-text]`
	selectorMessageText  = `span.selectable-text`
	attrMessageMeta      = "data-pre-plain-text"

	scrollToTopJS = `() => {
		const pane = document.querySelector("div[data-testid='conversation-panel-body']");
		if (pane) { pane.scrollTop = 0; }
	}`
)

// minLoadedMessages is how many rendered messages count as a loaded chat.
const minLoadedMessages = 5

// BrowserConfig controls how the browser is reached and how long it may take.
type BrowserConfig struct {
	// ControlURL attaches to a running browser; otherwise one is launched.
	ControlURL        string        `mapstructure:"controlURL"`
	Bin               string        `mapstructure:"bin"`
	Headless          bool          `mapstructure:"headless"`
	UserDataDir       string        `mapstructure:"userDataDir"`
	URL               string        `mapstructure:"url" validate:"required,url"`
	NavigationTimeout time.Duration `mapstructure:"navigationTimeout"`
	LoadAttempts      int           `mapstructure:"loadAttempts" validate:"gte=1"`
	LoadWait          time.Duration `mapstructure:"loadWait"`
	SearchTimeout     time.Duration `mapstructure:"searchTimeout"`
}

// WhatsAppSource reads recent group messages from WhatsApp Web. The logged-in
// session lives in the browser profile at UserDataDir.
type WhatsAppSource struct {
	cfg BrowserConfig

	mu       sync.Mutex
	launch   *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	loggedIn bool
}

// NewWhatsAppSource creates a source. The browser starts on first use.
func NewWhatsAppSource(cfg BrowserConfig) *WhatsAppSource {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.LoadAttempts <= 0 {
		cfg.LoadAttempts = 5
	}
	if cfg.LoadWait <= 0 {
		cfg.LoadWait = 3 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 5 * time.Second
	}
	return &WhatsAppSource{cfg: cfg}
}

// Start connects to the configured browser or launches a new one.
func (s *WhatsAppSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *WhatsAppSource) startLocked(ctx context.Context) error {
	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		logger.FromContext(ctx).Warn("Stale browser connection detected, reconnecting")
		s.closeLocked()
	}

	controlURL := s.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(s.cfg.Headless)
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		if s.cfg.UserDataDir != "" {
			l = l.UserDataDir(s.cfg.UserDataDir)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("%w: launch browser: %w", apperrors.ErrSourceUnavailable, err)
		}
		s.launch = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: connect to browser: %w", apperrors.ErrSourceUnavailable, err)
	}
	s.browser = browser
	logger.FromContext(ctx).Info("Browser connected", zap.Bool("launched", s.launch != nil))
	return nil
}

// ensurePage opens the chat client once and waits for the search box.
func (s *WhatsAppSource) ensurePage(ctx context.Context) (*rod.Page, error) {
	if err := s.startLocked(ctx); err != nil {
		return nil, err
	}
	if s.page != nil && s.loggedIn {
		return s.page.Context(ctx), nil
	}
	if s.page == nil {
		page, err := s.browser.Page(proto.TargetCreateTarget{URL: s.cfg.URL})
		if err != nil {
			return nil, fmt.Errorf("%w: open page: %w", apperrors.ErrSourceUnavailable, err)
		}
		s.page = page
	}
	page := s.page.Context(ctx)
	if _, err := page.Timeout(s.cfg.NavigationTimeout).Element(selectorSearchBox); err != nil {
		return nil, fmt.Errorf("%w: chat list not ready, the session may need a QR login: %w", apperrors.ErrSourceUnavailable, err)
	}
	s.loggedIn = true
	return page, nil
}

// ReadMessages opens group and returns its last count messages, oldest first.
func (s *WhatsAppSource) ReadMessages(ctx context.Context, group string, count int) ([]model.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.FromContext(ctx).With(zap.String("group", group))
	page, err := s.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.openChat(page, group); err != nil {
		s.loggedIn = false
		return nil, fmt.Errorf("%w: open group %q: %w", apperrors.ErrSourceUnavailable, group, err)
	}

	elements, err := s.waitForMessages(ctx, page, log)
	if err != nil {
		return nil, fmt.Errorf("%w: read group %q: %w", apperrors.ErrSourceUnavailable, group, err)
	}
	elements = lastN(elements, count)

	out := make([]model.RawMessage, 0, len(elements))
	for _, el := range elements {
		msg, err := readMessage(el)
		if err != nil {
			log.Warn("Skipping unreadable message element", zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	log.Info("Messages read", zap.Int("count", len(out)))
	return out, nil
}

func (s *WhatsAppSource) openChat(page *rod.Page, group string) error {
	box, err := page.Timeout(s.cfg.NavigationTimeout).Element(selectorSearchBox)
	if err != nil {
		return err
	}
	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := box.SelectAllText(); err == nil {
		_ = page.Keyboard.Press(input.Backspace)
	}
	if err := box.Input(group); err != nil {
		return err
	}

	for _, sel := range []string{selectorSearchResult, selectorListOption} {
		result, err := page.Timeout(s.cfg.SearchTimeout).Element(sel)
		if err != nil {
			continue
		}
		_ = result.ScrollIntoView()
		return result.Click(proto.InputMouseButtonLeft, 1)
	}
	return page.Keyboard.Type(input.ArrowDown, input.Enter)
}

// waitForMessages scrolls up until enough messages render or attempts run out.
func (s *WhatsAppSource) waitForMessages(ctx context.Context, page *rod.Page, log *zap.Logger) (rod.Elements, error) {
	for attempt := 1; attempt <= s.cfg.LoadAttempts; attempt++ {
		elements, err := page.Elements(selectorMessage)
		if err != nil {
			return nil, err
		}
		if len(elements) >= minLoadedMessages {
			return elements, nil
		}
		log.Debug("Waiting for messages to load",
			zap.Int("found", len(elements)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.LoadAttempts),
		)
		if _, err := page.Eval(scrollToTopJS); err != nil {
			log.Debug("Could not scroll conversation", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LoadWait):
		}
	}
	return page.Elements(selectorMessage)
}

func readMessage(el *rod.Element) (model.RawMessage, error) {
	meta, err := el.Attribute(attrMessageMeta)
	if err != nil {
		return model.RawMessage{}, err
	}
	var msg model.RawMessage
	if meta != nil {
		msg = parseMeta(*meta)
	}
	texts, err := el.Elements(selectorMessageText)
	if err != nil {
		return model.RawMessage{}, err
	}
	if len(texts) > 0 {
		text, err := texts[0].Text()
		if err != nil {
			return model.RawMessage{}, err
		}
		msg.Text = strings.TrimSpace(text)
	}
	return msg, nil
}

// parseMeta splits a "[HH:MM, D/M/YYYY] sender: " attribute. The timestamp
// is re-rendered in display format when it parses; otherwise it is kept raw
// so the caller can report it.
func parseMeta(meta string) model.RawMessage {
	meta = strings.TrimSpace(meta)
	meta = strings.TrimPrefix(meta, "[")
	ts, sender, found := strings.Cut(meta, "] ")
	if !found {
		ts, sender = strings.TrimSuffix(meta, "]"), ""
	}
	sender = strings.TrimSpace(sender)
	sender = strings.TrimSpace(strings.TrimSuffix(sender, ":"))

	ts = strings.TrimSpace(ts)
	if t, err := timestamp.ParseScraped(ts); err == nil {
		ts = timestamp.FormatDisplay(t)
	}
	return model.RawMessage{Sender: sender, Timestamp: ts}
}

func lastN(elements rod.Elements, n int) rod.Elements {
	if n <= 0 || len(elements) <= n {
		return elements
	}
	return elements[len(elements)-n:]
}

// Ping reports whether the browser is connected. A source busy reading
// messages counts as connected.
func (s *WhatsAppSource) Ping(context.Context) error {
	if !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()
	if s.browser == nil {
		return fmt.Errorf("%w: browser not started", apperrors.ErrSourceUnavailable)
	}
	if _, err := s.browser.Version(); err != nil {
		return fmt.Errorf("%w: browser unreachable: %w", apperrors.ErrSourceUnavailable, err)
	}
	return nil
}

// Close shuts the page and browser down and removes a launched browser.
func (s *WhatsAppSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *WhatsAppSource) closeLocked() error {
	var err error
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launch != nil {
		s.launch.Cleanup()
		s.launch = nil
	}
	s.loggedIn = false
	return err
}
