package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"linkvault/internal/classify"
	"linkvault/internal/domain"
	"linkvault/internal/stats"
	"linkvault/internal/storage"
)

// startHandler handles the /start command.
func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": "/start",
	}).Info("Received /start command")

	h.reply(ctx, update.Message.Chat.ID,
		"Welcome to LinkVault! Drop links in the chat and I'll offer to file them.\n\n"+
			"/links [category] — browse saved links\n"+
			"/search <text> — find saved links\n"+
			"/recent [n] — latest saves\n"+
			"/delete <n> — delete one saved link\n"+
			"/analyze <url> — safety-check a link\n"+
			"/categories — list categories\n"+
			"/delcat <name> — delete a category\n"+
			"/pending — re-show undecided links\n"+
			"/stats — collection summary\n"+
			"/export [csv] — download everything\n"+
			"/settings — per-chat behaviour\n"+
			"/clear — delete all saved links")
}

// linksHandler lists saved links, optionally narrowed to one category.
func (h *Handler) linksHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cat := commandArg(update.Message.Text)

	recs, err := h.store.ListSaved(ctx, storage.SavedFilter{Category: cat})
	if err != nil {
		h.log.WithError(err).Error("Listing links failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	h.bumpClicks(ctx, recs)
	h.reply(ctx, update.Message.Chat.ID, formatLinks(recs, cat))
}

// bumpClicks counts a listing serve against every shown record. Best-effort.
func (h *Handler) bumpClicks(ctx context.Context, recs []domain.SavedLink) {
	if len(recs) == 0 {
		return
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	if err := h.store.IncrementClicks(ctx, ids); err != nil {
		h.log.WithError(err).Warn("Click counting failed")
	}
}

// searchHandler finds saved links by URL substring.
func (h *Handler) searchHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	term := commandArg(update.Message.Text)
	if term == "" {
		h.reply(ctx, update.Message.Chat.ID, "Usage: /search <text>")
		return
	}

	recs, err := h.store.ListSaved(ctx, storage.SavedFilter{Contains: term})
	if err != nil {
		h.log.WithError(err).Error("Search failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	if len(recs) == 0 {
		h.reply(ctx, update.Message.Chat.ID, fmt.Sprintf("Nothing matches %q.", term))
		return
	}
	h.bumpClicks(ctx, recs)
	h.reply(ctx, update.Message.Chat.ID, formatLinks(recs, ""))
}

// deleteLinkHandler removes one saved link by its /links listing number.
func (h *Handler) deleteLinkHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	n, err := strconv.Atoi(commandArg(update.Message.Text))
	if err != nil || n < 1 {
		h.reply(ctx, update.Message.Chat.ID, "Usage: /delete <number from /links>")
		return
	}

	rec, err := h.deleteNth(ctx, n)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.reply(ctx, update.Message.Chat.ID, fmt.Sprintf("There is no link number %d.", n))
	case err != nil:
		h.log.WithError(err).Error("Deleting link failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
	default:
		h.reply(ctx, update.Message.Chat.ID, fmt.Sprintf("Deleted %s.", rec.URL))
	}
}

// deleteNth deletes the n-th (1-based) link of the unfiltered listing and
// takes its URL out of the category index. ErrNotFound when n is out of
// range.
func (h *Handler) deleteNth(ctx context.Context, n int) (domain.SavedLink, error) {
	recs, err := h.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return domain.SavedLink{}, err
	}
	if n < 1 || n > len(recs) {
		return domain.SavedLink{}, storage.ErrNotFound
	}
	rec := recs[n-1]

	if err := h.store.DeleteSaved(ctx, rec.ID); err != nil {
		return domain.SavedLink{}, err
	}
	if rec.Category != "" {
		if err := h.store.RemoveFromCategory(ctx, rec.Category, rec.URL); err != nil {
			// The record is gone; a stale index entry is not worth failing
			// the command over.
			h.log.WithError(err).WithFields(logrus.Fields{
				"category": rec.Category,
				"url":      rec.URL,
			}).Warn("Category index cleanup failed")
		}
	}
	return rec, nil
}

// analyzeHandler runs the safety classifier against an arbitrary URL on
// demand, without staging anything.
func (h *Handler) analyzeHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	url := commandArg(update.Message.Text)
	if url == "" {
		h.reply(ctx, update.Message.Chat.ID, "Usage: /analyze <url>")
		return
	}

	v, err := h.classifier.Classify(ctx, url)
	if err != nil {
		h.log.WithError(err).WithField("url", url).Warn("On-demand classification failed")
	}
	h.reply(ctx, update.Message.Chat.ID, formatVerdict(url, v))
}

// categoriesHandler lists categories with their sizes.
func (h *Handler) categoriesHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cats, err := h.categories.List(ctx)
	if err != nil {
		h.log.WithError(err).Error("Listing categories failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	h.reply(ctx, update.Message.Chat.ID, formatCategories(cats))
}

// deleteCategoryHandler tries a plain delete first; a non-empty category
// gets a cascade confirmation button instead.
func (h *Handler) deleteCategoryHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	name := commandArg(update.Message.Text)
	if name == "" {
		h.reply(ctx, update.Message.Chat.ID, "Usage: /delcat <name>")
		return
	}

	err := h.categories.Delete(ctx, name, false)
	switch {
	case err == nil:
		h.reply(ctx, update.Message.Chat.ID, fmt.Sprintf("Deleted category %s.", name))
	case errors.Is(err, storage.ErrNotFound):
		h.reply(ctx, update.Message.Chat.ID, fmt.Sprintf("No category called %q.", name))
	case errors.Is(err, storage.ErrCategoryNotEmpty):
		_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   fmt.Sprintf("%s still holds links. Delete them too?", name),
			ReplyMarkup: &models.InlineKeyboardMarkup{
				InlineKeyboard: [][]models.InlineKeyboardButton{{
					{Text: "Delete everything", CallbackData: cbDelCat + "|" + name},
					{Text: "Keep", CallbackData: cbClearNo + "|"},
				}},
			},
		})
		if err != nil {
			h.log.WithError(err).Error("Failed to send cascade confirmation")
		}
	default:
		h.log.WithError(err).Error("Deleting category failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
	}
}

// statsHandler renders the collection summary.
func (h *Handler) statsHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	sum, err := h.stats.Summarize(ctx)
	if err != nil {
		h.log.WithError(err).Error("Stats failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	h.reply(ctx, update.Message.Chat.ID, formatSummary(sum))
}

// recentHandler lists the latest saves, default five.
func (h *Handler) recentHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	n := 5
	if arg := commandArg(update.Message.Text); arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed < 1 {
			h.reply(ctx, update.Message.Chat.ID, "Usage: /recent [count]")
			return
		}
		n = parsed
	}

	recs, err := h.stats.Recent(ctx, n)
	if err != nil {
		h.log.WithError(err).Error("Recent failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	h.reply(ctx, update.Message.Chat.ID, formatLinks(recs, ""))
}

// pendingHandler re-surfaces the caller's undecided links with fresh
// prompts. This is also the recovery path after a restart.
func (h *Handler) pendingHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	entries, err := h.stager.Resume(ctx, update.Message.From.ID)
	if err != nil {
		h.log.WithError(err).Error("Resuming pending entries failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}
	if len(entries) == 0 {
		h.reply(ctx, update.Message.Chat.ID, "No links waiting on a decision.")
		return
	}
	for _, entry := range entries {
		h.prompt(ctx, entry)
	}
}

// exportHandler sends the whole collection as a JSON or CSV document.
func (h *Handler) exportHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	format := strings.ToLower(commandArg(update.Message.Text))

	var (
		out      []byte
		filename string
		err      error
	)
	switch format {
	case "", "json":
		out, err = h.stats.ExportJSON(ctx)
		filename = "links.json"
	case "csv":
		out, err = h.stats.ExportCSV(ctx)
		filename = "links.csv"
	default:
		h.reply(ctx, update.Message.Chat.ID, "Usage: /export [json|csv]")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Export failed")
		h.reply(ctx, update.Message.Chat.ID, "Storage is unavailable right now.")
		return
	}

	_, err = b.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   update.Message.Chat.ID,
		Document: &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(out)},
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to send export document")
	}
}

// settingsHandler shows or changes the chat's behaviour.
func (h *Handler) settingsHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	current := h.stager.Settings(ctx, chatID)

	args := strings.Fields(commandArg(update.Message.Text))
	if len(args) == 0 {
		h.reply(ctx, chatID, formatSettings(current))
		return
	}

	updated, err := applySetting(current, args)
	if err != nil {
		h.reply(ctx, chatID, err.Error())
		return
	}
	updated.ChatID = chatID

	if err := h.store.PutChatSettings(ctx, updated); err != nil {
		h.log.WithError(err).Error("Storing chat settings failed")
		h.reply(ctx, chatID, "Storage is unavailable right now.")
		return
	}
	h.reply(ctx, chatID, formatSettings(updated))
}

// clearHandler asks for confirmation before wiping the collection.
func (h *Handler) clearHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Delete every saved link? This cannot be undone.",
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "Delete everything", CallbackData: cbClearYes + "|"},
				{Text: "Keep", CallbackData: cbClearNo + "|"},
			}},
		},
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to send clear confirmation")
	}
}

// commandArg returns everything after the command word, trimmed.
func commandArg(text string) string {
	_, rest, _ := strings.Cut(text, " ")
	return strings.TrimSpace(rest)
}

// applySetting mutates one field of the settings from command arguments.
// Supported: ttl <minutes>, expiry on|off, category <name>.
func applySetting(s domain.ChatSettings, args []string) (domain.ChatSettings, error) {
	usage := fmt.Errorf("usage: /settings [ttl <minutes> | expiry on|off | category <name>]")
	if len(args) < 2 {
		return s, usage
	}
	switch args[0] {
	case "ttl":
		minutes, err := strconv.Atoi(args[1])
		if err != nil || minutes < 1 {
			return s, usage
		}
		s.PendingTTL = time.Duration(minutes) * time.Minute
	case "expiry":
		switch args[1] {
		case "on":
			s.DeletePromptOnExpiry = true
		case "off":
			s.DeletePromptOnExpiry = false
		default:
			return s, usage
		}
	case "category":
		s.DefaultCategory = strings.Join(args[1:], " ")
	default:
		return s, usage
	}
	return s, nil
}

// formatLinks renders a saved-links listing. Entries are numbered; the
// numbers of the unfiltered listing are what /delete takes.
func formatLinks(recs []domain.SavedLink, category string) string {
	if len(recs) == 0 {
		if category != "" {
			return fmt.Sprintf("No links in %s yet.", category)
		}
		return "No links saved yet."
	}

	var sb strings.Builder
	if category != "" {
		fmt.Fprintf(&sb, "Links in %s:\n", category)
	} else {
		fmt.Fprintf(&sb, "%d saved links:\n", len(recs))
	}
	for i, rec := range recs {
		fmt.Fprintf(&sb, "%d. %s", i+1, rec.URL)
		if rec.Title != "" {
			fmt.Fprintf(&sb, " — %s", rec.Title)
		}
		if category == "" && rec.Category != "" {
			fmt.Fprintf(&sb, " [%s]", rec.Category)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatCategories renders the category listing.
func formatCategories(cats []domain.Category) string {
	if len(cats) == 0 {
		return "No categories yet. Save a link to create one."
	}
	var sb strings.Builder
	sb.WriteString("Categories:\n")
	for _, c := range cats {
		fmt.Fprintf(&sb, "• %s (%d)\n", c.Name, len(c.URLs))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatSummary renders /stats output.
func formatSummary(sum stats.Summary) string {
	if sum.Total == 0 {
		return "No links saved yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %d links saved\n", sum.Total)
	writeBreakdown(&sb, "Top categories", sum.ByCategory)
	writeBreakdown(&sb, "Top domains", sum.ByDomain)
	writeBreakdown(&sb, "Top savers", sum.ByAuthor)
	return strings.TrimRight(sb.String(), "\n")
}

func writeBreakdown(sb *strings.Builder, title string, counts []stats.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(sb, "• %s — %d\n", c.Key, c.Count)
	}
}

// formatVerdict renders an on-demand classification result.
func formatVerdict(url string, v classify.Verdict) string {
	icon := "🔎"
	switch v.Safety {
	case classify.Safe:
		icon = "✅"
	case classify.Suspect, classify.Unsafe:
		icon = "⚠️"
	}
	out := fmt.Sprintf("%s %s: %s", icon, url, v.Safety)
	if v.Note != "" {
		out += " — " + v.Note
	}
	return out
}

// formatSettings renders /settings output.
func formatSettings(s domain.ChatSettings) string {
	expiry := "kept"
	if s.DeletePromptOnExpiry {
		expiry = "deleted"
	}
	return fmt.Sprintf(
		"Chat settings:\n"+
			"• Pending links expire after %s\n"+
			"• Expired prompts are %s\n"+
			"• Default category: %s",
		s.PendingTTL, expiry, s.DefaultCategory)
}
