package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"phone-gate-bot/internal/allowlist"
	"phone-gate-bot/internal/audit"
	"phone-gate-bot/internal/duration"
	apperrors "phone-gate-bot/internal/errors"
	"phone-gate-bot/internal/phone"
	"phone-gate-bot/internal/procctl"
)

// maxMessageLen is the transport's message size cap; long listings are
// chunked below it.
const maxMessageLen = 4000

// HandlerOptions carries the static knobs for the command handlers.
type HandlerOptions struct {
	AdminID  int64
	PageSize int
	LogLimit int
}

// Handler processes updates the gate has let through. Every command is
// admin-only and silently ignored for other callers, except /id.
type Handler struct {
	api    API
	store  allowlist.Store
	audit  audit.Store
	runner *procctl.Runner
	opts   HandlerOptions
	logger *slog.Logger
}

// NewHandler creates a new update handler. auditStore may be nil.
func NewHandler(
	api API,
	store allowlist.Store,
	auditStore audit.Store,
	runner *procctl.Runner,
	opts HandlerOptions,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		api:    api,
		store:  store,
		audit:  auditStore,
		runner: runner,
		opts:   opts,
		logger: logger,
	}
}

// HandleUpdate processes a single update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if msg.IsCommand() {
		h.handleCommand(ctx, msg)
		return
	}

	h.handleFreeform(ctx, msg)
}

func (h *Handler) isAdmin(userID int64) bool {
	return userID == h.opts.AdminID
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	// /id is open to any caller the gate let through.
	if msg.Command() == "id" {
		h.sendText(msg.Chat.ID, fmt.Sprintf("Your ID: %d\nChat ID: %d", msg.From.ID, msg.Chat.ID))
		return
	}

	if !h.isAdmin(msg.From.ID) {
		return
	}

	h.logger.Info("admin command", "command", msg.Command(), "corr_id", corrID(ctx))

	switch msg.Command() {
	case "add":
		h.handleAdd(msg)
	case "del":
		h.handleDel(msg)
	case "temp":
		h.handleTemp(msg)
	case "find":
		h.handleFind(msg)
	case "list":
		h.handleList(msg)
	case "tme":
		h.handleLinks(msg, linkTme)
	case "tg":
		h.handleLinks(msg, linkTg)
	case "log":
		h.handleLog(msg)
	case "restart":
		h.handleRestart(ctx, msg)
	case "update":
		h.handleStreamUpdate(ctx, msg)
	case "help":
		h.handleHelp(msg)
	default:
		h.sendText(msg.Chat.ID, "Unknown command. Use /help for available commands.")
	}
}

func (h *Handler) handleAdd(msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		h.sendText(msg.Chat.ID, "❔ Usage: /add <phone number>")
		return
	}

	num := phone.Normalize(arg)
	if !phone.IsValid(num) {
		h.sendText(msg.Chat.ID, "⚠️ Invalid phone number format.")
		return
	}

	switch err := h.store.Add(num); {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		h.sendText(msg.Chat.ID, fmt.Sprintf("⚠️ %s is already in the list.", num))
	case err != nil:
		h.reportError(msg.Chat.ID, err)
	default:
		h.record(audit.KindAdd, msg.From.ID, num)
		h.sendText(msg.Chat.ID, fmt.Sprintf("➕ Added phone number: %s", num))
	}
}

func (h *Handler) handleDel(msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		h.sendText(msg.Chat.ID, "❔ Usage: /del <phone number>")
		return
	}

	num := phone.Normalize(arg)
	h.sendText(msg.Chat.ID, h.removeNumber(msg.From.ID, num))
}

// removeNumber deletes a number and words the outcome; /del and the list
// UI's confirmed deletion share it.
func (h *Handler) removeNumber(userID int64, num string) string {
	membership, err := h.store.Remove(num)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return fmt.Sprintf("⚠️ %s not found in the list.", num)
	case err != nil:
		return apperrors.GetUserMessage(err)
	}

	h.record(audit.KindRemove, userID, num)
	return fmt.Sprintf("➖ Removed phone number: %s (from %s)", num, membershipLabel(membership))
}

func membershipLabel(m allowlist.Membership) string {
	switch {
	case m.Permanent && m.Temporary:
		return "permanent and temporary lists"
	case m.Temporary:
		return "temporary list"
	default:
		return "permanent list"
	}
}

func (h *Handler) handleTemp(msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		h.sendText(msg.Chat.ID, "❔ Usage: /temp <duration> <phone number> (e.g. /temp 2d +1234567890)")
		return
	}

	tok, err := duration.Parse(args[0])
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}

	num := phone.Normalize(args[1])
	if !phone.IsValid(num) {
		h.sendText(msg.Chat.ID, "⚠️ Invalid phone number format.")
		return
	}

	expiry := tok.ExpiryFrom(time.Now())
	switch err := h.store.AddTemporary(num, expiry); {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		h.sendText(msg.Chat.ID, fmt.Sprintf("⚠️ %s already has an unexpired temporary entry.", num))
	case err != nil:
		h.reportError(msg.Chat.ID, err)
	default:
		h.record(audit.KindTempAdd, msg.From.ID, fmt.Sprintf("%s until %s", num, expiry.Format(time.RFC3339)))
		h.sendText(msg.Chat.ID, fmt.Sprintf("⏳ Added temporary number %s until %s", num, expiry.Format(time.RFC3339)))
	}
}

func (h *Handler) handleFind(msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		h.sendText(msg.Chat.ID, "❔ Usage: /find <phone number>")
		return
	}

	num := phone.Normalize(arg)
	membership, err := h.store.Exists(num)
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}

	switch {
	case membership.Permanent && membership.Temporary:
		h.sendText(msg.Chat.ID, fmt.Sprintf("✅ %s is in the list (also temporary).", num))
	case membership.Permanent:
		h.sendText(msg.Chat.ID, fmt.Sprintf("✅ %s is in the list.", num))
	case membership.Temporary:
		h.sendText(msg.Chat.ID, fmt.Sprintf("✅ %s is in the temporary list.", num))
	default:
		h.sendText(msg.Chat.ID, fmt.Sprintf("❌ %s not found in the list.", num))
	}
}

func (h *Handler) handleList(msg *tgbotapi.Message) {
	text, markup, err := h.renderList(0)
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if markup != nil {
		reply.ReplyMarkup = *markup
	}
	h.send(reply)
}

type linkFormat int

const (
	linkTme linkFormat = iota
	linkTg
)

func formatLink(num string, f linkFormat) string {
	if f == linkTg {
		return "tg://resolve?phone=" + strings.TrimPrefix(num, "+")
	}
	return "https://t.me/" + num
}

// handleLinks sends deep links for one given number, or for the whole
// combined list, chunked to stay within the message size cap.
func (h *Handler) handleLinks(msg *tgbotapi.Message, f linkFormat) {
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		num := phone.Normalize(arg)
		if !phone.IsValid(num) {
			h.sendText(msg.Chat.ID, "⚠️ Invalid phone number format.")
			return
		}
		h.sendText(msg.Chat.ID, formatLink(num, f))
		return
	}

	entries, err := h.store.ListCombined()
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}
	if len(entries) == 0 {
		h.sendText(msg.Chat.ID, "⚠️ The list is empty.")
		return
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatLink(e.Phone, f))
	}
	for _, chunk := range chunkLines(lines, maxMessageLen) {
		h.sendText(msg.Chat.ID, chunk)
	}
}

func (h *Handler) handleLog(msg *tgbotapi.Message) {
	if h.audit == nil {
		h.sendText(msg.Chat.ID, "⚠️ Audit log is not configured.")
		return
	}
	events, err := h.audit.Recent(h.opts.LogLimit)
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}
	if len(events) == 0 {
		h.sendText(msg.Chat.ID, "⚠️ No audit entries yet.")
		return
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("%s  %-12s  user %d  %s",
			ev.At.Format("2006-01-02 15:04:05"), ev.Kind, ev.UserID, ev.Details))
	}
	for _, chunk := range chunkLines(lines, maxMessageLen) {
		h.sendText(msg.Chat.ID, chunk)
	}
}

func (h *Handler) handleRestart(ctx context.Context, msg *tgbotapi.Message) {
	out, err := h.runner.Restart(ctx)
	if err != nil {
		h.logger.Error("restart script failed", "error", err, "corr_id", corrID(ctx))
		text := fmt.Sprintf("⚠️ Error restarting bot: %v", err)
		if out != "" {
			text += "\n" + out
		}
		h.sendText(msg.Chat.ID, tail(text, maxMessageLen))
		return
	}

	h.record(audit.KindRestart, msg.From.ID, "")
	if out == "" {
		out = "❕ Service restarted"
	}
	h.sendText(msg.Chat.ID, tail(out, maxMessageLen))
}

func (h *Handler) handleStreamUpdate(ctx context.Context, msg *tgbotapi.Message) {
	sent, err := h.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❕ Starting update..."))
	if err != nil {
		h.logger.Error("failed to send update status message", "error", err, "corr_id", corrID(ctx))
		return
	}

	err = h.runner.StreamUpdate(ctx, func(text string) {
		h.editText(ctx, msg.Chat.ID, sent.MessageID, text)
	})
	switch {
	case errors.Is(err, procctl.ErrUpdateInProgress):
		h.editText(ctx, msg.Chat.ID, sent.MessageID, "⚠️ An update is already running.")
	case err != nil:
		h.logger.Error("update script failed", "error", err, "corr_id", corrID(ctx))
		h.editText(ctx, msg.Chat.ID, sent.MessageID, fmt.Sprintf("⚠️ Update failed: %v", err))
	default:
		h.record(audit.KindUpdate, msg.From.ID, "")
		h.editText(ctx, msg.Chat.ID, sent.MessageID, "❕ Update finished.")
	}
}

func (h *Handler) handleHelp(msg *tgbotapi.Message) {
	help := tgbotapi.NewMessage(msg.Chat.ID,
		"<pre>\n"+
			"Available commands:\n"+
			"-------------------\n"+
			"/add &lt;phone&gt;          - Add a phone number to the list\n"+
			"/del &lt;phone&gt;          - Remove a phone number from the list\n"+
			"/temp &lt;dur&gt; &lt;phone&gt;   - Add a temporary number (e.g. /temp 2d +123...)\n"+
			"/list                 - Show phone numbers (with confirmation before deletion)\n"+
			"/find &lt;phone&gt;         - Search for a phone number in the list\n"+
			"/tme [phone]          - Show deep links in t.me format\n"+
			"/tg [phone]           - Show deep links in tg://resolve format\n"+
			"/log                  - Show recent audit entries\n"+
			"/id                   - Show your numeric Telegram ID\n"+
			"/restart              - Restart the bot using the restart script\n"+
			"/update               - Update the bot using the update script\n"+
			"/help                 - Display this help message\n"+
			"</pre>")
	help.ParseMode = tgbotapi.ModeHTML
	h.send(help)
}

// handleFreeform bulk-adds phone numbers from an admin's plain message:
// the attached contact's number, or every non-empty line of the text.
func (h *Handler) handleFreeform(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isAdmin(msg.From.ID) {
		return
	}

	var lines []string
	if msg.Contact != nil {
		lines = []string{msg.Contact.PhoneNumber}
	} else {
		lines = strings.Split(msg.Text, "\n")
	}

	numbers, err := h.store.ReadPermanent()
	if err != nil {
		h.reportError(msg.Chat.ID, err)
		return
	}

	var added, present, invalid []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		num := phone.Normalize(line)
		if !phone.IsValid(num) {
			invalid = append(invalid, line)
			continue
		}
		if _, ok := numbers[num]; ok {
			present = append(present, num)
			continue
		}
		numbers[num] = struct{}{}
		added = append(added, num)
	}

	if len(added) == 0 && len(present) == 0 && len(invalid) == 0 {
		h.sendText(msg.Chat.ID, "⚠️ No phone number detected in your message.")
		return
	}

	if len(added) > 0 {
		if err := h.store.WritePermanent(numbers); err != nil {
			h.reportError(msg.Chat.ID, err)
			return
		}
		h.record(audit.KindBulkAdd, msg.From.ID, fmt.Sprintf("%d added", len(added)))
	}

	var parts []string
	if len(added) > 0 {
		parts = append(parts, fmt.Sprintf("➕ Added (%d):\n%s", len(added), strings.Join(added, "\n")))
	}
	if len(present) > 0 {
		parts = append(parts, fmt.Sprintf("⚠️ Already in the list (%d):\n%s", len(present), strings.Join(present, "\n")))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("⚠️ Invalid (%d):\n%s", len(invalid), strings.Join(invalid, "\n")))
	}
	for _, chunk := range chunkLines(parts, maxMessageLen) {
		h.sendText(msg.Chat.ID, chunk)
	}
}

func (h *Handler) reportError(chatID int64, err error) {
	h.logger.Error("command failed", "error", err)
	h.sendText(chatID, apperrors.GetUserMessage(err))
}

func (h *Handler) record(kind audit.Kind, userID int64, details string) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(audit.Event{At: time.Now(), UserID: userID, Kind: kind, Details: details}); err != nil {
		h.logger.Error("failed to record audit event", "error", err, "kind", string(kind))
	}
}

func (h *Handler) send(c tgbotapi.Chattable) {
	if _, err := h.api.Send(c); err != nil {
		h.logger.Error("failed to send message", "error", err)
	}
}

func (h *Handler) sendText(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

// editText updates a message in place; a failed edit (e.g. the message is
// gone) is logged and swallowed.
func (h *Handler) editText(ctx context.Context, chatID int64, messageID int, text string) {
	if _, err := h.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		h.logger.Error("failed to edit message", "error", err, "corr_id", corrID(ctx))
	}
}

// chunkLines joins lines into newline-separated chunks of at most limit
// characters; a single oversized line becomes its own chunk.
func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// tail returns the last limit bytes of s, advanced past any torn UTF-8
// rune at the cut so the result stays valid for the transport.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
