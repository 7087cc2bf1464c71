package notify

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOptions configures the Telegram notifier.
type TelegramOptions struct {
	ChatID      int64
	MaxUploadMB int     // default DefaultMaxUploadMB
	PerSecond   float64 // default 1 message per second
}

// Telegram posts progress messages and the batch file to one chat.
type Telegram struct {
	sender  Sender
	opts    TelegramOptions
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewTelegramBot authenticates with token and returns the bot.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, eris.New("notify: telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, eris.Wrap(err, "notify: telegram login")
	}
	return bot, nil
}

// NewTelegram creates a Telegram notifier that posts through sender.
func NewTelegram(sender Sender, opts TelegramOptions) *Telegram {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = DefaultMaxUploadMB
	}
	if opts.PerSecond <= 0 {
		opts.PerSecond = 1
	}
	return &Telegram{
		sender:  sender,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.PerSecond), 1),
		log:     zap.L().With(zap.String("component", "notify.telegram")),
	}
}

func (t *Telegram) Progress(ctx context.Context, text string) {
	if err := t.send(ctx, tgbotapi.NewMessage(t.opts.ChatID, text)); err != nil {
		logFailure(t.log, "telegram", "message", err)
	}
}

// Deliver uploads the file, or sends its location when it is over the
// upload limit or the upload fails.
func (t *Telegram) Deliver(ctx context.Context, path string) {
	size, err := fileSize(path)
	if err != nil {
		logFailure(t.log, "telegram", "stat", err)
		return
	}
	if megabytes(size) > float64(t.opts.MaxUploadMB) {
		t.Progress(ctx, tooLargeText(path, size, t.opts.MaxUploadMB))
		return
	}

	doc := tgbotapi.NewDocument(t.opts.ChatID, tgbotapi.FilePath(path))
	if err := t.send(ctx, doc); err != nil {
		logFailure(t.log, "telegram", "document", err)
		t.Progress(ctx, "Error enviando archivo. El archivo está disponible en:\n"+path)
		return
	}
	t.log.Info("notify: batch delivered", zap.String("path", path), zap.Int64("bytes", size))
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "notify: rate limit")
	}
	if _, err := t.sender.Send(c); err != nil {
		return eris.Wrap(err, "notify: telegram send")
	}
	return nil
}

// Updater is the part of *tgbotapi.BotAPI used to receive commands.
type Updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Listen long-polls for bot commands from the configured chat and calls
// handle with the command name ("start"). Messages from other chats are
// ignored. It returns when ctx is done.
func (t *Telegram) Listen(ctx context.Context, u Updater, handle func(ctx context.Context, command string)) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := u.GetUpdatesChan(cfg)
	defer u.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			msg := upd.Message
			if msg == nil || msg.Chat == nil || msg.Chat.ID != t.opts.ChatID {
				continue
			}
			if !msg.IsCommand() {
				continue
			}
			cmd := strings.ToLower(msg.Command())
			t.log.Info("notify: command received", zap.String("command", cmd))
			handle(ctx, cmd)
		}
	}
}
