package logx

import (
	"bytes"
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LineSender posts one formatted log line to a chat thread.
type LineSender interface {
	SendLogLine(ctx context.Context, chatID int64, threadID int, text string) error
}

// TelegramSink is a zerolog LevelWriter that forwards log lines to an
// operator chat. Writes never block: lines are queued for a single worker
// and dropped when the queue is full or the rate limit is exceeded.
type TelegramSink struct {
	sender LineSender

	mu       sync.Mutex
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level

	queue  chan string
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegramSink(sender LineSender) *TelegramSink {
	return &TelegramSink{
		sender:   sender,
		queue:    make(chan string, 256),
		limiter:  rate.NewLimiter(1, 1),
		minLevel: zerolog.WarnLevel,
	}
}

func (t *TelegramSink) apply(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	t.mu.Lock()
	t.chatID, t.threadID = cfg.ChatID, cfg.ThreadID
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.mu.Unlock()

	t.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.wg.Add(1)
		go t.worker(ctx)
	})
}

func (t *TelegramSink) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			chatID, threadID := t.chatID, t.threadID
			t.mu.Unlock()
			if t.sender == nil || chatID == 0 {
				continue
			}
			_ = t.sender.SendLogLine(ctx, chatID, threadID, msg)
		}
	}
}

func (t *TelegramSink) close() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
}

func (t *TelegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *TelegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	min := t.minLevel
	lim := t.limiter
	chatID := t.chatID
	t.mu.Unlock()

	if chatID == 0 || level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatLine(bytes.TrimSpace(p))
	if msg == "" {
		return len(p), nil
	}
	select {
	case t.queue <- msg:
	default:
	}
	return len(p), nil
}
