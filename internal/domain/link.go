package domain

import "time"

// PendingLink is a detected URL held in staging until its owner disposes of
// it (save or ignore) or the expiry timer fires. It is deleted on every
// terminal transition, never promoted in place.
type PendingLink struct {
	// ID is assigned by the storage backend at creation and is opaque to
	// callers.
	ID string `json:"id" bson:"_id"`

	// UserID is the chat-platform id of the user who posted the link.
	UserID int64 `json:"user_id" bson:"user_id"`

	// ChatID is the chat the link was posted in. Together with UserID it
	// forms the deduplication scope.
	ChatID int64 `json:"chat_id" bson:"chat_id"`

	// MessageID is the id of the originating chat message.
	MessageID int `json:"message_id" bson:"message_id"`

	// Author is the display name of the posting user, carried along so a
	// later save does not need the gateway to resolve it again.
	Author string `json:"author,omitempty" bson:"author,omitempty"`

	// URL as extracted from the message, before normalization.
	URL string `json:"url" bson:"url"`

	// CreatedAt is when the link entered staging.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`

	// PromptMessageID is the id of the disposition prompt the bot posted
	// for this link. Zero until the prompt is sent; attached exactly once.
	PromptMessageID int `json:"prompt_message_id,omitempty" bson:"prompt_message_id,omitempty"`
}

// SavedLink is the durable record created when a pending link is saved with
// a category. Immutable except for Clicks, Active and the scraped metadata.
type SavedLink struct {
	ID string `json:"id" bson:"_id"`

	URL string `json:"url" bson:"url"`

	// Author is the display name of the saving user, kept for listings.
	Author string `json:"author" bson:"author"`

	UserID int64 `json:"user_id" bson:"user_id"`
	ChatID int64 `json:"chat_id" bson:"chat_id"`

	Category string    `json:"category" bson:"category"`
	SavedAt  time.Time `json:"saved_at" bson:"saved_at"`

	// Clicks counts how often the link was served from a listing.
	Clicks int `json:"clicks,omitempty" bson:"clicks,omitempty"`

	// Active is cleared instead of deleting the record when a link is
	// soft-removed. Inactive links are invisible to listings and dedup.
	Active bool `json:"active" bson:"active"`

	// Title and Description are best-effort scrape enrichment and may be
	// empty.
	Title       string `json:"title,omitempty" bson:"title,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// Category groups saved link URLs under a display name. Lookups are
// case-insensitive; Name keeps the casing the user typed.
type Category struct {
	Name string   `json:"name" bson:"name"`
	URLs []string `json:"urls" bson:"urls"`
}

// ChatSettings holds per-chat overrides, created lazily with defaults.
type ChatSettings struct {
	ChatID int64 `json:"chat_id" bson:"_id"`

	// PendingTTL overrides the global staging expiry when positive.
	PendingTTL time.Duration `json:"pending_ttl,omitempty" bson:"pending_ttl,omitempty"`

	// DeletePromptOnExpiry controls whether the disposition prompt message
	// is removed when a pending link expires unanswered.
	DeletePromptOnExpiry bool `json:"delete_prompt_on_expiry" bson:"delete_prompt_on_expiry"`

	// DefaultCategory is offered first when the user saves a link.
	DefaultCategory string `json:"default_category,omitempty" bson:"default_category,omitempty"`
}
