package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"linkvault/internal/domain"
)

// MongoStore implements Store on MongoDB, one collection per logical table.
// Atomicity of single operations is the database's native per-document
// guarantee; TakePending maps onto FindOneAndDelete.
type MongoStore struct {
	client   *mongo.Client
	pending  *mongo.Collection
	saved    *mongo.Collection
	category *mongo.Collection
	settings *mongo.Collection
	log      logrus.FieldLogger
}

// NewMongoStore connects to the database and verifies it is reachable with a
// ping before handing the store out.
func NewMongoStore(ctx context.Context, uri, dbName string, logger logrus.FieldLogger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	db := client.Database(dbName)
	log := logger.WithField("component", "mongostore")
	log.WithField("database", dbName).Info("MongoDB connected")

	return &MongoStore{
		client:   client,
		pending:  db.Collection("pending_links"),
		saved:    db.Collection("saved_links"),
		category: db.Collection("categories"),
		settings: db.Collection("chat_settings"),
		log:      log,
	}, nil
}

func (s *MongoStore) Close() error {
	s.log.Info("Disconnecting MongoDB")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// unavailable wraps driver errors that are not "no documents" as backend
// unavailability.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// --- pending links ---

func (s *MongoStore) CreatePending(ctx context.Context, entry domain.PendingLink) (string, error) {
	if err := validatePending(entry); err != nil {
		return "", err
	}
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := s.pending.InsertOne(ctx, entry); err != nil {
		return "", unavailable("insert pending", err)
	}
	return entry.ID, nil
}

func (s *MongoStore) GetPending(ctx context.Context, id string) (domain.PendingLink, error) {
	var entry domain.PendingLink
	err := s.pending.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.PendingLink{}, ErrNotFound
	}
	if err != nil {
		return domain.PendingLink{}, unavailable("get pending", err)
	}
	return entry, nil
}

func (s *MongoStore) TakePending(ctx context.Context, id string) (domain.PendingLink, error) {
	var entry domain.PendingLink
	err := s.pending.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.PendingLink{}, ErrNotFound
	}
	if err != nil {
		return domain.PendingLink{}, unavailable("take pending", err)
	}
	return entry, nil
}

func (s *MongoStore) AttachPromptID(ctx context.Context, id string, messageID int) error {
	res, err := s.pending.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"prompt_message_id": messageID}})
	if err != nil {
		return unavailable("attach prompt id", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeletePending(ctx context.Context, id string) error {
	if _, err := s.pending.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return unavailable("delete pending", err)
	}
	return nil
}

func (s *MongoStore) ListPending(ctx context.Context, userID int64) ([]domain.PendingLink, error) {
	cur, err := s.pending.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	var out []domain.PendingLink
	if err := cur.All(ctx, &out); err != nil {
		return nil, unavailable("decode pending", err)
	}
	return out, nil
}

// --- saved links ---

func (s *MongoStore) CreateSaved(ctx context.Context, rec domain.SavedLink) (string, error) {
	if err := validateSaved(rec); err != nil {
		return "", err
	}
	rec.ID = uuid.NewString()
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	if _, err := s.saved.InsertOne(ctx, rec); err != nil {
		return "", unavailable("insert saved", err)
	}
	return rec.ID, nil
}

func (s *MongoStore) ListSaved(ctx context.Context, filter SavedFilter) ([]domain.SavedLink, error) {
	// Fetch active records and apply the shared filter in memory so the
	// matching semantics are byte-identical with the other backends.
	cur, err := s.saved.Find(ctx, bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "saved_at", Value: 1}}))
	if err != nil {
		return nil, unavailable("list saved", err)
	}
	var all []domain.SavedLink
	if err := cur.All(ctx, &all); err != nil {
		return nil, unavailable("decode saved", err)
	}
	var out []domain.SavedLink
	for _, rec := range all {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MongoStore) UpdateSavedMetadata(ctx context.Context, id, title, description string) error {
	res, err := s.saved.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"title": title, "description": description}})
	if err != nil {
		return unavailable("update saved metadata", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) IncrementClicks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.saved.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$inc": bson.M{"clicks": 1}})
	if err != nil {
		return unavailable("increment clicks", err)
	}
	return nil
}

func (s *MongoStore) DeleteSaved(ctx context.Context, id string) error {
	if _, err := s.saved.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return unavailable("delete saved", err)
	}
	return nil
}

func (s *MongoStore) ClearSaved(ctx context.Context) error {
	if _, err := s.saved.DeleteMany(ctx, bson.M{}); err != nil {
		return unavailable("clear saved", err)
	}
	return nil
}

func (s *MongoStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.saved.DeleteMany(ctx, bson.M{"saved_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, unavailable("purge saved", err)
	}
	return int(res.DeletedCount), nil
}

// --- categories ---

func (s *MongoStore) AddToCategory(ctx context.Context, category, url string) error {
	if strings.TrimSpace(category) == "" {
		return ErrValidation
	}
	// Folded name as _id gives the case-insensitive lookup; the display
	// casing of the first writer wins, same as the other backends.
	_, err := s.category.UpdateOne(ctx,
		bson.M{"_id": strings.ToLower(category)},
		bson.M{
			"$push":        bson.M{"urls": url},
			"$setOnInsert": bson.M{"name": category},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return unavailable("add to category", err)
	}
	return nil
}

func (s *MongoStore) RemoveFromCategory(ctx context.Context, category, url string) error {
	_, err := s.category.UpdateOne(ctx,
		bson.M{"_id": strings.ToLower(category)},
		bson.M{"$pull": bson.M{"urls": url}})
	if err != nil {
		return unavailable("remove from category", err)
	}
	return nil
}

func (s *MongoStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cur, err := s.category.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, unavailable("list categories", err)
	}
	var out []domain.Category
	if err := cur.All(ctx, &out); err != nil {
		return nil, unavailable("decode categories", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteCategory(ctx context.Context, category string) error {
	if _, err := s.category.DeleteOne(ctx, bson.M{"_id": strings.ToLower(category)}); err != nil {
		return unavailable("delete category", err)
	}
	return nil
}

// --- chat settings ---

func (s *MongoStore) ChatSettings(ctx context.Context, chatID int64) (domain.ChatSettings, error) {
	var cs domain.ChatSettings
	err := s.settings.FindOne(ctx, bson.M{"_id": chatID}).Decode(&cs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ChatSettings{}, ErrNotFound
	}
	if err != nil {
		return domain.ChatSettings{}, unavailable("get chat settings", err)
	}
	return cs, nil
}

func (s *MongoStore) PutChatSettings(ctx context.Context, cs domain.ChatSettings) error {
	_, err := s.settings.ReplaceOne(ctx, bson.M{"_id": cs.ChatID}, cs,
		options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable("put chat settings", err)
	}
	return nil
}
