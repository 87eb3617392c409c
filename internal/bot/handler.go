// Package bot wires the Telegram surface: it turns incoming messages into
// staged links, renders disposition prompts with inline keyboards, and maps
// commands and callbacks onto the stager, category index and stats.
package bot

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"linkvault/internal/category"
	"linkvault/internal/classify"
	"linkvault/internal/config"
	"linkvault/internal/domain"
	"linkvault/internal/stager"
	"linkvault/internal/stats"
	"linkvault/internal/storage"
)

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot        *tgbot.Bot
	cfg        config.Config
	store      storage.Store
	stager     *stager.Stager
	categories *category.Index
	stats      *stats.Aggregator
	classifier classify.Classifier
	log        logrus.FieldLogger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewHandler creates a new bot handler instance and registers all handlers.
func NewHandler(cfg config.Config, store storage.Store, st *stager.Stager, ix *category.Index, agg *stats.Aggregator, classifier classify.Classifier, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	b, err := tgbot.New(cfg.TelegramBotToken)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	h := &Handler{
		bot:        b,
		cfg:        cfg,
		store:      store,
		stager:     st,
		categories: ix,
		stats:      agg,
		classifier: classifier,
		log:        log,
		limiters:   make(map[int64]*rate.Limiter),
	}

	h.registerHandlers()
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypeContains, h.messageHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, "", tgbot.MatchTypePrefix, h.callbackHandler)

	// The stager reports classification verdicts and expiries after the
	// fact; both land back in the chat the link came from.
	st.OnClassified = h.onClassified
	st.OnExpired = h.onExpired

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// registerHandlers sets up the command handlers.
func (h *Handler) registerHandlers() {
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/links", tgbot.MatchTypePrefix, h.linksHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/categories", tgbot.MatchTypeExact, h.categoriesHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/delcat", tgbot.MatchTypePrefix, h.deleteCategoryHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/delete", tgbot.MatchTypePrefix, h.deleteLinkHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/analyze", tgbot.MatchTypePrefix, h.analyzeHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/stats", tgbot.MatchTypeExact, h.statsHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/recent", tgbot.MatchTypePrefix, h.recentHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/search", tgbot.MatchTypePrefix, h.searchHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/pending", tgbot.MatchTypeExact, h.pendingHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/export", tgbot.MatchTypePrefix, h.exportHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/settings", tgbot.MatchTypePrefix, h.settingsHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/clear", tgbot.MatchTypeExact, h.clearHandler)
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

// allow rate-limits message intake per user: a small burst, then one
// message a second. Over-limit messages are dropped silently.
func (h *Handler) allow(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		h.limiters[userID] = lim
	}
	return lim.Allow()
}

// messageHandler stages the links out of any plain text message and prompts
// for a decision on each.
func (h *Handler) messageHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	if !h.allow(msg.From.ID) {
		h.log.WithField("user_id", msg.From.ID).Debug("Rate limited, dropping message")
		return
	}

	staged, err := h.stager.Ingest(ctx, stager.Message{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Author:    displayName(msg.From),
		Text:      msg.Text,
	})
	if err != nil {
		h.log.WithError(err).Error("Staging message failed")
		h.reply(ctx, msg.Chat.ID, "Storage is unavailable right now, your links were not captured.")
		return
	}

	for _, entry := range staged {
		h.prompt(ctx, entry)
	}
}

// prompt sends the Save/Ignore keyboard for one staged link and records the
// prompt message id so expiry can clean it up.
func (h *Handler) prompt(ctx context.Context, entry domain.PendingLink) {
	log := h.log.WithFields(logrus.Fields{"pending_id": entry.ID, "url": entry.URL})

	sent, err := h.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      entry.ChatID,
		Text:        fmt.Sprintf("Save this link?\n%s", entry.URL),
		ReplyMarkup: disposeKeyboard(entry.ID),
	})
	if err != nil {
		log.WithError(err).Error("Failed to send disposition prompt")
		return
	}
	if err := h.stager.Attach(ctx, entry.ID, sent.ID); err != nil {
		log.WithError(err).Warn("Failed to attach prompt message id")
	}
}

// onClassified surfaces non-safe verdicts in the chat. Safe and unscored
// verdicts stay quiet; the prompt already asks the only question that
// matters.
func (h *Handler) onClassified(entry domain.PendingLink, v classify.Verdict) {
	if v.Safety != classify.Suspect && v.Safety != classify.Unsafe {
		return
	}
	text := fmt.Sprintf("⚠️ %s was flagged %s", entry.URL, v.Safety)
	if v.Note != "" {
		text += ": " + v.Note
	}
	h.reply(context.Background(), entry.ChatID, text)
}

// onExpired removes the stale prompt message once its entry has expired.
func (h *Handler) onExpired(entry domain.PendingLink) {
	_, err := h.bot.DeleteMessage(context.Background(), &tgbot.DeleteMessageParams{
		ChatID:    entry.ChatID,
		MessageID: entry.PromptMessageID,
	})
	if err != nil {
		h.log.WithError(err).WithField("pending_id", entry.ID).Debug("Failed to delete expired prompt")
	}
}

// reply sends plain text to a chat, logging rather than surfacing failures.
func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	_, err := h.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		h.log.WithError(err).WithField("chat_id", chatID).Error("Failed to send message")
	}
}

// displayName picks the best human-readable name for a Telegram user.
func displayName(u *models.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
