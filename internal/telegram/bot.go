package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"phone-gate-bot/internal/allowlist"
	"phone-gate-bot/internal/audit"
	"phone-gate-bot/internal/config"
	"phone-gate-bot/internal/procctl"
)

// API is the slice of the bot API that the gate and handlers use. It is
// satisfied by *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, update tgbotapi.Update)

// Middleware wraps a HandlerFunc with a pre-dispatch filter. The
// authorization gate is registered this way, so the transport loop never
// needs to know about it.
type Middleware func(next HandlerFunc) HandlerFunc

// Bot represents the Telegram bot
type Bot struct {
	api      *tgbotapi.BotAPI
	dispatch HandlerFunc
	cfg      config.TelegramConfig
	logger   *slog.Logger

	// Track active update processing
	activeRequests sync.WaitGroup
}

// NewBot creates a new Telegram bot with the authorization gate installed
// in front of the command handlers.
func NewBot(
	cfg *config.Config,
	store allowlist.Store,
	auditStore audit.Store,
	runner *procctl.Runner,
	logger *slog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	handler := NewHandler(api, store, auditStore, runner, HandlerOptions{
		AdminID:  cfg.Telegram.AdminID,
		PageSize: cfg.UI.PageSize,
		LogLimit: cfg.Audit.LogLimit,
	}, logger)
	gate := NewGate(api, store, auditStore, cfg.Telegram.AdminID, logger)

	return &Bot{
		api:      api,
		dispatch: chain(handler.HandleUpdate, gate.Middleware()),
		cfg:      cfg.Telegram,
		logger:   logger,
	}, nil
}

// chain applies middleware right to left, so the first listed runs first.
func chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Run starts the bot and blocks until context is cancelled
func (b *Bot) Run(ctx context.Context) error {
	b.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollingTimeout

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping bot, waiting for active updates")

			// Stop receiving updates
			b.api.StopReceivingUpdates()

			// Wait for active updates with timeout
			done := make(chan struct{})
			go func() {
				b.activeRequests.Wait()
				close(done)
			}()

			select {
			case <-done:
				b.logger.Info("all active updates completed")
			case <-time.After(25 * time.Second):
				b.logger.Warn("some updates may not have completed")
			}

			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}

			// Process update in goroutine
			b.activeRequests.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.activeRequests.Done()

				// Create request context with timeout and correlation id
				reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
				defer cancel()

				b.dispatch(withCorrID(reqCtx, uuid.NewString()), upd)
			}(update)
		}
	}
}

// registerCommands publishes the command menu. A failure is logged, not
// fatal; the bot still answers typed commands.
func (b *Bot) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "add", Description: "Add a phone number to the list"},
		tgbotapi.BotCommand{Command: "del", Description: "Remove a phone number from the list"},
		tgbotapi.BotCommand{Command: "temp", Description: "Add a temporary phone number"},
		tgbotapi.BotCommand{Command: "list", Description: "Show phone numbers with deletion options"},
		tgbotapi.BotCommand{Command: "find", Description: "Search for a phone number in the list"},
		tgbotapi.BotCommand{Command: "tme", Description: "Show deep links (t.me format)"},
		tgbotapi.BotCommand{Command: "tg", Description: "Show deep links (tg://resolve format)"},
		tgbotapi.BotCommand{Command: "log", Description: "Show recent audit entries"},
		tgbotapi.BotCommand{Command: "id", Description: "Show your numeric Telegram ID"},
		tgbotapi.BotCommand{Command: "restart", Description: "Restart the bot using the restart script"},
		tgbotapi.BotCommand{Command: "update", Description: "Update the bot using the update script"},
		tgbotapi.BotCommand{Command: "help", Description: "Display help message"},
	)
	if _, err := b.api.Request(cmds); err != nil {
		b.logger.Error("failed to set command menu", "error", err)
	}
}

type corrIDKey struct{}

func withCorrID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrIDKey{}, id)
}

// corrID returns the correlation id attached to the update's context, or
// an empty string outside the dispatch path.
func corrID(ctx context.Context) string {
	id, _ := ctx.Value(corrIDKey{}).(string)
	return id
}
