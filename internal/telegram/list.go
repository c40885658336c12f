package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data for the /list UI:
//
//	page|<page>            render the given page
//	confirm|<page>|<phone> ask before deleting
//	delete|<page>|<phone>  delete and show the outcome
//	cancel|<page>          back to the list page
//
// The page rides along so cancel can return to where the admin was. The
// list itself is never snapshotted: every render re-reads the store, so a
// deletion that happened meanwhile is reflected on the next page flip.

// renderList builds the text and keyboard for one page of the combined
// list. A nil markup means the list is empty.
func (h *Handler) renderList(page int) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	entries, err := h.store.ListCombined()
	if err != nil {
		return "", nil, err
	}
	if len(entries) == 0 {
		return "⚠️ The list is empty.", nil, nil
	}

	pages := (len(entries) + h.opts.PageSize - 1) / h.opts.PageSize
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}

	start := page * h.opts.PageSize
	end := start + h.opts.PageSize
	if end > len(entries) {
		end = len(entries)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, e := range entries[start:end] {
		label := e.Phone
		if e.Temporary {
			label += " ⏳"
			if e.Label != "" {
				label += " " + e.Label
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("confirm|%d|%s", page, e.Phone)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Prev", fmt.Sprintf("page|%d", page-1)))
	}
	if page < pages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("➡️ Next", fmt.Sprintf("page|%d", page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	text := fmt.Sprintf("❓ Select a phone number to delete (page %d/%d):", page+1, pages)
	return text, &markup, nil
}

func (h *Handler) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Stop the client-side spinner regardless of the outcome.
	if _, err := h.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		h.logger.Error("failed to answer callback", "error", err, "corr_id", corrID(ctx))
	}

	if query.From == nil || !h.isAdmin(query.From.ID) || query.Message == nil {
		return
	}

	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	action, rest, _ := strings.Cut(query.Data, "|")
	switch action {
	case "page", "cancel":
		page, _ := strconv.Atoi(rest)
		h.editList(ctx, chatID, messageID, page)

	case "confirm":
		pageStr, num, ok := strings.Cut(rest, "|")
		if !ok {
			return
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("‼️ Yes, delete", fmt.Sprintf("delete|%s|%s", pageStr, num)),
				tgbotapi.NewInlineKeyboardButtonData("🔙 Cancel", fmt.Sprintf("cancel|%s", pageStr)),
			),
		)
		h.editWithMarkup(ctx, chatID, messageID,
			fmt.Sprintf("❓ Are you sure you want to delete %s?", num), markup)

	case "delete":
		_, num, ok := strings.Cut(rest, "|")
		if !ok {
			return
		}
		h.editText(ctx, chatID, messageID, h.removeNumber(query.From.ID, num))

	default:
		h.logger.Warn("unknown callback action", "data", query.Data, "corr_id", corrID(ctx))
	}
}

// editList re-renders the list page into an existing message.
func (h *Handler) editList(ctx context.Context, chatID int64, messageID int, page int) {
	text, markup, err := h.renderList(page)
	if err != nil {
		h.logger.Error("failed to render list", "error", err, "corr_id", corrID(ctx))
		return
	}
	if markup == nil {
		h.editText(ctx, chatID, messageID, text)
		return
	}
	h.editWithMarkup(ctx, chatID, messageID, text, *markup)
}

func (h *Handler) editWithMarkup(ctx context.Context, chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	if _, err := h.api.Request(edit); err != nil {
		h.logger.Error("failed to edit message", "error", err, "corr_id", corrID(ctx))
	}
}
