package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"outagebot/internal/outage"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
	"outagebot/pkg/tgui"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	// Buttons are reply keyboard texts that trigger the command.
	Buttons []string
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Action      string
	Description string
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

type Request struct {
	Update    kit.Update
	Chat      kit.ChatTarget
	From      kit.Sender
	MessageID int    // message carrying the pressed inline button
	Command   string // command name or "cb:<action>"
	Args      []string
	Payload   string
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger

	callbackID string
	answered   atomic.Bool
}

// Reply sends msg to the chat the request came from.
func (r *Request) Reply(ctx context.Context, msg outage.Message, markup *tele.ReplyMarkup) (kit.MessageRef, error) {
	opt := &kit.SendOptions{ParseMode: string(msg.Dialect), DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	return r.Adapter.SendText(ctx, r.Chat, msg.Body, opt)
}

// Edit replaces the message carrying the pressed inline button.
func (r *Request) Edit(ctx context.Context, msg outage.Message, markup *tele.ReplyMarkup) error {
	opt := &kit.SendOptions{ParseMode: string(msg.Dialect), DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	ref := kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}
	return r.Adapter.EditText(ctx, ref, msg.Body, opt)
}

// Answer stops the client's loading indicator with text. Only the first call
// for a callback reaches Telegram.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.callbackID == "" || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, r.callbackID, text)
}

// UserStore is the part of the registry the bot commands need.
type UserStore interface {
	UpsertUser(ctx context.Context, u storage.User) error
	UpsertChat(ctx context.Context, c storage.Chat) error
	User(ctx context.Context, uniqueID int64) (storage.User, error)
	SetInterestGroups(ctx context.Context, uniqueID int64, groups []string) error
}

// LatestSource renders the most recent snapshot of a provider.
type LatestSource interface {
	ComposeLatest(ctx context.Context, provider string) (outage.Message, bool, error)
}

type Config struct {
	Provider       string
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
}

type CommandManager struct {
	cfg      Config
	log      logx.Logger
	adapter  kit.Adapter
	users    UserStore
	latest   LatestSource
	composer outage.Composer

	mu        sync.RWMutex
	commands  []Command
	byName    map[string]*Command
	byButton  map[string]*Command
	callbacks map[string]CallbackRoute

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(cfg Config, log logx.Logger, adapter kit.Adapter, users UserStore, latest LatestSource, composer outage.Composer) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 20 * time.Second
	}
	m := &CommandManager{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		users:    users,
		latest:   latest,
		composer: composer,
		jobs:     make(chan func(), cfg.QueueSize),
	}
	m.SetRegistry(m.builtinCommands(), m.builtinCallbacks())
	return m
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command and callback tables.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	byName := map[string]*Command{}
	byButton := map[string]*Command{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		kept = append(kept, cc)
		ptr := &kept[len(kept)-1]
		byName[name] = ptr
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = ptr
			}
		}
		for _, b := range c.Buttons {
			if b = strings.TrimSpace(b); b != "" {
				byButton[b] = ptr
			}
		}
	}

	callbacks := map[string]CallbackRoute{}
	for _, r := range cbs {
		a := strings.TrimSpace(r.Action)
		if a == "" || r.Handle == nil {
			continue
		}
		callbacks[a] = r
	}

	m.mu.Lock()
	m.commands = kept
	m.byName = byName
	m.byButton = byButton
	m.callbacks = callbacks
	m.mu.Unlock()
}

// PublishMenu pushes the command list to Telegram's /menu when the adapter
// supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildMenuCommands(m.commands)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// mark as not running before closing so enqueue degrades gracefully
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}

	defer func() {
		closeJobs()
		// give workers a moment to drain
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) lookup(text string) (cmd *Command, args []string, unknown bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !strings.HasPrefix(text, "/") {
		return m.byButton[text], nil, false
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := m.byName[word]
	if !ok {
		return nil, nil, true
	}
	return cmd, parts[1:], false
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	cmd, args, unknown := m.lookup(text)

	req := m.newRequest(up, kit.ChatTarget{ChatID: msg.Chat.ID, ThreadID: msg.ThreadID}, msg.From)
	req.Args = args

	// Unmatched text still registers the sender.
	h := func(context.Context, *Request) error { return nil }
	timeout := m.cfg.CommandTimeout
	switch {
	case cmd != nil:
		req.Command = cmd.Name
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case unknown && msg.Chat.Type == string(tele.ChatPrivate):
		req.Command = "unknown"
		h = func(ctx context.Context, r *Request) error {
			_, err := r.Reply(ctx, m.composer.Unknown(), nil)
			return err
		}
	default:
		req.Command = "text"
	}
	req.Logger = req.Logger.With(logx.String("cmd", req.Command))

	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
		MWRegister(m.users),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.log.Warn("command queue full", logx.Int64("chat_id", msg.Chat.ID), logx.String("cmd", req.Command))
		if cmd != nil {
			_, _ = req.Reply(root, m.composer.Busy(), nil)
		}
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.From)
	req.Command = "cb:" + action
	req.Payload = payload
	req.MessageID = cb.MessageID
	req.callbackID = cb.ID
	req.Logger = req.Logger.With(logx.String("cmd", req.Command))

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = m.cfg.CommandTimeout
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() {
		_ = final(root, req)
		// stop the client spinner if the handler did not answer
		_ = req.Answer(root, "")
	}) {
		_ = req.Answer(root, m.composer.Busy().Body)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from kit.Sender) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
		),
	}
}
