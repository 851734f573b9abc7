package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollection = "messages"

// messageDoc is the stored shape of a message. Media is kept raw because
// documents written by older clients hold a bare URL string there.
type messageDoc struct {
	ID             string        `bson:"_id"`
	ConversationID string        `bson:"conversation_id"`
	SenderID       string        `bson:"sender_id"`
	Text           string        `bson:"text"`
	Media          bson.RawValue `bson:"media,omitempty"`
	ClientID       string        `bson:"client_id,omitempty"`
	Edited         bool          `bson:"edited"`
	EditedAt       *time.Time    `bson:"edited_at,omitempty"`
	Deleted        bool          `bson:"deleted"`
	DeletedAt      *time.Time    `bson:"deleted_at,omitempty"`
	DeletedBy      string        `bson:"deleted_by,omitempty"`
	SystemEvent    string        `bson:"system_event,omitempty"`
	Version        int64         `bson:"version"`
	CreatedAt      time.Time     `bson:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at"`
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a MongoStore backed by the messages collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(messageCollection), now: time.Now}
}

// EnsureIndexes creates the conversation listing index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Version = 1

	doc, err := toDoc(msg)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Message, error) {
	var doc messageDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toMessage(), nil
}

func (s *MongoStore) Edit(ctx context.Context, id, requesterID, text string) (*Message, error) {
	return s.mutate(ctx, id, requesterID, func(m *Message, now time.Time) {
		m.applyEdit(text, now)
	})
}

func (s *MongoStore) SoftDelete(ctx context.Context, id, requesterID string) (*Message, error) {
	return s.mutate(ctx, id, requesterID, func(m *Message, now time.Time) {
		m.applyDelete(requesterID, now)
	})
}

func (s *MongoStore) mutate(ctx context.Context, id, requesterID string, apply func(*Message, time.Time)) (*Message, error) {
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := CheckMutable(current, requesterID); err != nil {
			return nil, err
		}

		now := s.now().UTC()
		next := current.Clone()
		apply(next, now)
		next.Version = current.Version + 1
		next.UpdatedAt = now

		set := bson.M{
			"text":       next.Text,
			"edited":     next.Edited,
			"edited_at":  next.EditedAt,
			"deleted":    next.Deleted,
			"deleted_at": next.DeletedAt,
			"version":    next.Version,
			"updated_at": next.UpdatedAt,
		}
		update := bson.M{"$set": set}
		if next.Deleted {
			set["deleted_by"] = next.DeletedBy
			set["system_event"] = next.SystemEvent
			update["$unset"] = bson.M{"media": ""}
		}

		filter := casFilter(id, current.Version)
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var doc messageDoc
		err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return doc.toMessage(), nil
	}
	return nil, fmt.Errorf("message %s: %w", id, ErrConflict)
}

// casFilter matches the document only while it is still at version and not
// deleted. Documents written before versioning carry neither field and read
// as version 1.
func casFilter(id string, version int64) bson.M {
	filter := bson.M{"_id": id, "deleted": bson.M{"$ne": true}}
	if version == 1 {
		filter["version"] = bson.M{"$in": bson.A{nil, int64(1)}}
	} else {
		filter["version"] = version
	}
	return filter
}

func (s *MongoStore) ListByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	msgs := make([]*Message, 0, len(docs))
	for i := range docs {
		msgs = append(msgs, docs[i].toMessage())
	}
	return msgs, nil
}

func (s *MongoStore) LatestActivity(ctx context.Context, conversationIDs []string) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"conversation_id": bson.M{"$in": conversationIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "latest": bson.M{"$max": "$created_at"}}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			ID     string    `bson:"_id"`
			Latest time.Time `bson:"latest"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		latest[row.ID] = row.Latest
	}
	return latest, cursor.Err()
}

func toDoc(m *Message) (*messageDoc, error) {
	doc := &messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		ClientID:       m.ClientID,
		Edited:         m.Edited,
		EditedAt:       m.EditedAt,
		Deleted:        m.Deleted,
		DeletedAt:      m.DeletedAt,
		DeletedBy:      m.DeletedBy,
		SystemEvent:    m.SystemEvent,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Media != nil {
		t, data, err := bson.MarshalValue(m.Media)
		if err != nil {
			return nil, fmt.Errorf("encode media: %w", err)
		}
		doc.Media = bson.RawValue{Type: t, Value: data}
	}
	return doc, nil
}

func (d *messageDoc) toMessage() *Message {
	m := &Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Text:           d.Text,
		Media:          decodeMedia(d.Media),
		ClientID:       d.ClientID,
		Edited:         d.Edited,
		EditedAt:       d.EditedAt,
		Deleted:        d.Deleted,
		DeletedAt:      d.DeletedAt,
		DeletedBy:      d.DeletedBy,
		SystemEvent:    d.SystemEvent,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return m
}

// decodeMedia reads either the tagged document or a legacy bare string.
func decodeMedia(raw bson.RawValue) *Media {
	switch raw.Type {
	case bsontype.String:
		return LegacyMedia(raw.StringValue())
	case bsontype.EmbeddedDocument:
		var media Media
		if err := raw.Unmarshal(&media); err != nil || media.URL == "" {
			return nil
		}
		return &media
	}
	return nil
}
