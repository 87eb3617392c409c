package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"linkvault/internal/storage"
)

// Callback data is "verb|args...". Telegram caps the payload at 64 bytes,
// which fits a verb plus a UUID plus a short category name.
const (
	cbSave      = "save"
	cbIgnore    = "ign"
	cbCategory  = "cat"
	cbDelCat    = "delcat"
	cbClearYes  = "clearyes"
	cbClearNo   = "clearno"
	maxCallback = 64
)

// disposeKeyboard is the initial Save/Ignore prompt.
func disposeKeyboard(id string) models.ReplyMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "💾 Save", CallbackData: cbSave + "|" + id},
			{Text: "🗑 Ignore", CallbackData: cbIgnore + "|" + id},
		}},
	}
}

// categoryKeyboard offers the known categories two per row, with the default
// category first. Names too long for the callback payload are skipped.
func categoryKeyboard(id, defaultCategory string, names []string) models.ReplyMarkup {
	var ordered []string
	if defaultCategory != "" {
		ordered = append(ordered, defaultCategory)
	}
	for _, n := range names {
		if n != "" && !strings.EqualFold(n, defaultCategory) {
			ordered = append(ordered, n)
		}
	}

	var rows [][]models.InlineKeyboardButton
	var row []models.InlineKeyboardButton
	for _, name := range ordered {
		data := strings.Join([]string{cbCategory, id, name}, "|")
		if len(data) > maxCallback {
			continue
		}
		row = append(row, models.InlineKeyboardButton{Text: name, CallbackData: data})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "🗑 Ignore", CallbackData: cbIgnore + "|" + id},
	})
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// callbackHandler dispatches inline-button presses.
func (h *Handler) callbackHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	q := update.CallbackQuery
	if q == nil {
		return
	}
	// Callback data comes from the client and is forgeable; anything that
	// does not parse as verb|args is dropped, never dereferenced.
	parts := strings.SplitN(q.Data, "|", 3)
	if len(parts) < 2 {
		h.log.WithField("data", q.Data).Warn("Malformed callback data")
		return
	}

	var note string
	switch parts[0] {
	case cbSave:
		note = h.onSavePressed(ctx, q, parts[1])
	case cbIgnore:
		note = h.onIgnorePressed(ctx, q, parts[1])
	case cbCategory:
		if len(parts) == 3 {
			note = h.onCategoryPicked(ctx, q, parts[1], parts[2])
		}
	case cbDelCat:
		note = h.onCascadeConfirmed(ctx, q, parts[1])
	case cbClearYes:
		note = h.onClearConfirmed(ctx, q)
	case cbClearNo:
		h.editPrompt(ctx, q, "Nothing was deleted.")
		note = "Cancelled"
	default:
		h.log.WithField("data", q.Data).Warn("Unknown callback")
	}

	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: q.ID,
		Text:            note,
	})
	if err != nil {
		h.log.WithError(err).Debug("Failed to answer callback query")
	}
}

// notOwner reports whether someone other than the staging user pressed a
// disposition button. Only the poster decides; a racing TakePending by the
// real owner is still settled by the store.
func (h *Handler) notOwner(ctx context.Context, q *models.CallbackQuery, id string) (bool, string) {
	entry, err := h.store.GetPending(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.editPrompt(ctx, q, "This link was already handled.")
		return true, "Already handled"
	}
	if err != nil {
		h.log.WithError(err).Error("Looking up pending entry failed")
		return true, "Storage unavailable, try again"
	}
	if entry.UserID != q.From.ID {
		return true, "Only the person who posted this link can decide"
	}
	return false, ""
}

// onSavePressed swaps the Save/Ignore keyboard for the category picker. The
// entry stays pending; the decision lands when a category is picked.
func (h *Handler) onSavePressed(ctx context.Context, q *models.CallbackQuery, id string) string {
	if bad, note := h.notOwner(ctx, q, id); bad {
		return note
	}

	settings := h.stager.Settings(ctx, chatOf(q))
	cats, err := h.categories.List(ctx)
	if err != nil {
		h.log.WithError(err).Error("Listing categories failed")
		return "Storage unavailable, try again"
	}
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}

	h.editMarkup(ctx, q, categoryKeyboard(id, settings.DefaultCategory, names))
	return ""
}

// onCategoryPicked completes the save.
func (h *Handler) onCategoryPicked(ctx context.Context, q *models.CallbackQuery, id, name string) string {
	// An empty category means ignore, which this button never offers.
	if strings.TrimSpace(name) == "" {
		h.log.WithField("data", q.Data).Warn("Category callback without a name")
		return "Pick a category"
	}
	if bad, note := h.notOwner(ctx, q, id); bad {
		return note
	}
	rec, err := h.stager.Dispose(ctx, id, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.editPrompt(ctx, q, "This link was already handled.")
		return "Already handled"
	case err != nil:
		h.log.WithError(err).Error("Saving link failed")
		return "Storage unavailable, try again"
	}
	h.editPrompt(ctx, q, fmt.Sprintf("Saved to %s ✅\n%s", rec.Category, rec.URL))
	return "Saved"
}

// onIgnorePressed discards the entry.
func (h *Handler) onIgnorePressed(ctx context.Context, q *models.CallbackQuery, id string) string {
	if bad, note := h.notOwner(ctx, q, id); bad {
		return note
	}
	_, err := h.stager.Dispose(ctx, id, "")
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.editPrompt(ctx, q, "This link was already handled.")
		return "Already handled"
	case err != nil:
		h.log.WithError(err).Error("Ignoring link failed")
		return "Storage unavailable, try again"
	}
	h.editPrompt(ctx, q, "Ignored.")
	return "Ignored"
}

// onCascadeConfirmed deletes a category together with its saved links.
func (h *Handler) onCascadeConfirmed(ctx context.Context, q *models.CallbackQuery, name string) string {
	err := h.categories.Delete(ctx, name, true)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.editPrompt(ctx, q, "That category is already gone.")
		return ""
	case err != nil:
		h.log.WithError(err).Error("Cascade delete failed")
		return "Storage unavailable, try again"
	}
	h.editPrompt(ctx, q, fmt.Sprintf("Deleted category %s and its links.", name))
	return "Deleted"
}

// onClearConfirmed wipes the saved collection.
func (h *Handler) onClearConfirmed(ctx context.Context, q *models.CallbackQuery) string {
	if err := h.store.ClearSaved(ctx); err != nil {
		h.log.WithError(err).Error("Clearing saved links failed")
		return "Storage unavailable, try again"
	}
	h.editPrompt(ctx, q, "All saved links deleted.")
	return "Cleared"
}

// editPrompt replaces the callback's message text and drops its keyboard.
func (h *Handler) editPrompt(ctx context.Context, q *models.CallbackQuery, text string) {
	if q.Message.Message == nil {
		return
	}
	_, err := h.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    q.Message.Message.Chat.ID,
		MessageID: q.Message.Message.ID,
		Text:      text,
	})
	if err != nil {
		h.log.WithError(err).Debug("Failed to edit prompt")
	}
}

// editMarkup swaps the callback message's keyboard in place.
func (h *Handler) editMarkup(ctx context.Context, q *models.CallbackQuery, markup models.ReplyMarkup) {
	if q.Message.Message == nil {
		return
	}
	_, err := h.bot.EditMessageReplyMarkup(ctx, &tgbot.EditMessageReplyMarkupParams{
		ChatID:      q.Message.Message.Chat.ID,
		MessageID:   q.Message.Message.ID,
		ReplyMarkup: markup,
	})
	if err != nil {
		h.log.WithError(err).Debug("Failed to edit keyboard")
	}
}

// chatOf returns the chat a callback came from, zero when inaccessible.
func chatOf(q *models.CallbackQuery) int64 {
	if q.Message.Message == nil {
		return 0
	}
	return q.Message.Message.Chat.ID
}
