// Package telegram implements transport.Messenger on top of telebot and
// exposes a small command/callback surface for the bot process.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "rallybot/internal/runtime/supervisor"
	"rallybot/internal/transport"
	logx "rallybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Request is the adapter-neutral view of an incoming command or button press.
type Request struct {
	ChatID       int64
	ThreadID     int
	MessageID    int
	FromID       int64
	FromUsername string
	Args         []string
	Data         string
}

// CommandFunc handles a slash command. A non-empty reply is sent to the chat.
type CommandFunc func(ctx context.Context, r Request) (reply string, err error)

// CallbackFunc handles an inline button press. The reply is shown as a toast.
type CallbackFunc func(ctx context.Context, r Request) (reply string, err error)

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	return newAdapter(cfg, log, false)
}

func newAdapter(cfg Config, log logx.Logger, offline bool) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (a *Adapter) ctx() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return a.sup.Context()
	}
	return context.Background()
}

// HandleCommand registers fn for "/name". Register before Start.
func (a *Adapter) HandleCommand(name string, fn CommandFunc) {
	name = "/" + strings.TrimPrefix(strings.TrimSpace(name), "/")
	a.bot.Handle(name, func(c tele.Context) error {
		r := requestFrom(c)
		reply, err := fn(a.ctx(), r)
		if err != nil {
			a.log.Warn("command failed", logx.String("cmd", name), logx.Int64("chat", r.ChatID), logx.Err(err))
			if reply == "" {
				reply = "Something went wrong: " + err.Error()
			}
		}
		if reply == "" {
			return nil
		}
		_, err = a.SendText(a.ctx(), transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}, reply, nil)
		return err
	})
}

// HandleCallback registers fn for inline buttons built with Button(unique, ...).
func (a *Adapter) HandleCallback(unique string, fn CallbackFunc) {
	a.bot.Handle(&tele.Btn{Unique: unique}, func(c tele.Context) error {
		r := requestFrom(c)
		reply, err := fn(a.ctx(), r)
		if err != nil {
			a.log.Warn("callback failed", logx.String("unique", unique), logx.Int64("chat", r.ChatID), logx.Err(err))
			if reply == "" {
				reply = err.Error()
			}
		}
		return c.Respond(&tele.CallbackResponse{Text: reply})
	})
}

// Button returns a one-button inline keyboard for SendOptions.ReplyMarkupAdapter.
func Button(unique, label, data string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data(label, unique, data)))
	return m
}

func requestFrom(c tele.Context) Request {
	r := Request{Args: c.Args(), Data: c.Data()}
	if ch := c.Chat(); ch != nil {
		r.ChatID = ch.ID
	}
	if m := c.Message(); m != nil {
		r.MessageID = m.ID
		r.ThreadID = m.ThreadID
	}
	if u := c.Sender(); u != nil {
		r.FromID = u.ID
		r.FromUsername = u.Username
	}
	return r
}

// Start begins long polling. It returns immediately.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, 500*time.Millisecond, 10*time.Second)
	return nil
}

// Stop ends polling, waiting at most 2s or until ctx is done.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			end = len(rs)
		} else {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText sends text, split into several messages when long. The returned
// ref points at the first message; markup is attached to it only.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 {
			if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendLogLine posts an operator log line without link previews.
func (a *Adapter) SendLogLine(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// DeleteMessage removes a message. Telegram refuses deletes of messages
// older than 48h; callers treat any error as best-effort.
func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID})
}
