package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"phone-gate-bot/internal/allowlist"
	"phone-gate-bot/internal/audit"
	"phone-gate-bot/internal/phone"
)

// Gate is the authorization middleware: it holds back every update from a
// user who has not yet proven, by sharing their own contact, that their
// phone number is on the allow list. The admin bypasses it.
//
// Authorization is per process: the session map is never persisted, and a
// user stays authorized until the bot restarts.
type Gate struct {
	api     API
	store   allowlist.Store
	audit   audit.Store
	adminID int64
	logger  *slog.Logger

	// sessions is keyed by user id; presence means authorized. Handlers
	// run on separate goroutines, hence the mutex.
	mu       sync.Mutex
	sessions map[int64]struct{}
}

// NewGate creates the authorization gate. auditStore may be nil.
func NewGate(api API, store allowlist.Store, auditStore audit.Store, adminID int64, logger *slog.Logger) *Gate {
	return &Gate{
		api:      api,
		store:    store,
		audit:    auditStore,
		adminID:  adminID,
		logger:   logger,
		sessions: make(map[int64]struct{}),
	}
}

// Middleware returns the gate as a pre-dispatch filter for the bot's
// middleware chain.
func (g *Gate) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, update tgbotapi.Update) {
			g.filter(ctx, update, next)
		}
	}
}

// IsAuthorized reports whether the user has an authorized session.
func (g *Gate) IsAuthorized(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessions[userID]
	return ok
}

func (g *Gate) authorize(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[userID] = struct{}{}
}

func (g *Gate) filter(ctx context.Context, update tgbotapi.Update, next HandlerFunc) {
	user := update.SentFrom()
	if user == nil {
		// Nothing to authorize against (e.g. channel posts); pass through.
		next(ctx, update)
		return
	}

	if user.ID == g.adminID || g.IsAuthorized(user.ID) {
		next(ctx, update)
		return
	}

	// Callback presses carry no contact; acknowledge and prompt.
	if q := update.CallbackQuery; q != nil {
		if _, err := g.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			g.logger.Error("failed to answer callback", "error", err, "corr_id", corrID(ctx))
		}
		if q.Message != nil {
			g.prompt(ctx, q.Message.Chat.ID)
		}
		return
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return
	}

	if msg.Contact == nil {
		g.prompt(ctx, msg.Chat.ID)
		return
	}

	g.checkContact(ctx, msg, user, next, update)
}

// checkContact authorizes the user if the shared contact is their own and
// its number is on the allow list, then forwards the same update.
func (g *Gate) checkContact(ctx context.Context, msg *tgbotapi.Message, user *tgbotapi.User, next HandlerFunc, update tgbotapi.Update) {
	contact := msg.Contact

	// A contact forwarded from someone else proves nothing. A contact
	// with no Telegram account attached has no verifiable owner and is
	// checked on its number alone.
	if contact.UserID != 0 && contact.UserID != user.ID {
		g.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, "Please send your own contact."))
		return
	}

	num := phone.Normalize(contact.PhoneNumber)
	membership, err := g.store.Exists(num)
	if err != nil {
		g.logger.Error("authorization lookup failed", "error", err, "user_id", user.ID, "corr_id", corrID(ctx))
		g.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, "Authorization is temporarily unavailable. Please try again."))
		return
	}

	if membership.Absent() {
		g.logger.Warn("authorization denied", "user_id", user.ID, "corr_id", corrID(ctx))
		g.record(audit.KindAuthDenied, user.ID, num)
		g.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, "Access denied. Your number was not found in the allowed list."))
		return
	}

	g.authorize(user.ID)
	g.logger.Info("user authorized",
		"user_id", user.ID,
		"temporary", membership.Temporary && !membership.Permanent,
		"corr_id", corrID(ctx),
	)
	g.record(audit.KindAuthGranted, user.ID, num)

	confirm := tgbotapi.NewMessage(msg.Chat.ID, "Authorization successful. You can now use the bot.")
	confirm.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	g.send(ctx, confirm)

	// The authorizing update itself is forwarded.
	next(ctx, update)
}

// prompt asks the user to share their contact via a one-time reply
// keyboard with a request-contact button.
func (g *Gate) prompt(ctx context.Context, chatID int64) {
	msg := tgbotapi.NewMessage(chatID,
		"To use the bot, you must be authorized.\n"+
			"Please click the button below to share your contact.")
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact("Share Contact")),
	)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true
	msg.ReplyMarkup = keyboard
	g.send(ctx, msg)
}

func (g *Gate) send(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := g.api.Send(c); err != nil {
		g.logger.Error("failed to send message", "error", err, "corr_id", corrID(ctx))
	}
}

func (g *Gate) record(kind audit.Kind, userID int64, details string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(audit.Event{At: time.Now(), UserID: userID, Kind: kind, Details: details}); err != nil {
		g.logger.Error("failed to record audit event", "error", err, "kind", string(kind))
	}
}
