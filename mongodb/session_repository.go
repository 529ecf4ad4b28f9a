package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/chatkit/domain"
)

// SessionRepositoryMongo implements domain.SessionRepository using MongoDB.
type SessionRepositoryMongo struct {
	collection *mongo.Collection
}

// NewSessionRepositoryMongo creates a new SessionRepositoryMongo and
// ensures the collection's indexes.
func NewSessionRepositoryMongo(ctx context.Context, db *mongo.Database) (domain.SessionRepository, error) {
	repo := &SessionRepositoryMongo{
		collection: db.Collection(ChatSessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			// Session listings are per user, newest first.
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "last_accessed_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "chatbot_id", Value: 1}},
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes()); err != nil {
		// Index creation races on startup are tolerable; the collection
		// stays usable either way.
		log.Warn().Err(err).Msg("Issue creating indexes for chat_sessions collection")
	}

	return repo, nil
}

// CreateSession inserts a new chat session record.
func (r *SessionRepositoryMongo) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastAccessedAt.IsZero() {
		session.LastAccessedAt = now
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("chat session with this ID already exists")
		}
		log.Error().Err(err).Msg("Error storing chat session in MongoDB")
		return err
	}
	return nil
}

// GetSessionByID retrieves a session by its primary id.
func (r *SessionRepositoryMongo) GetSessionByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	var session domain.ChatSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting chat session by ID from MongoDB")
		return nil, err
	}
	return &session, nil
}

// TouchSession refreshes lastAccessedAt and replaces the upstream session
// id on an existing record. Concurrent touches are last-write-wins.
func (r *SessionRepositoryMongo) TouchSession(ctx context.Context, id, chatkitSessionID string, accessedAt time.Time) (*domain.ChatSession, error) {
	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{
		"last_accessed_at":   accessedAt,
		"chatkit_session_id": chatkitSessionID,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session domain.ChatSession
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		log.Error().Err(err).Str("sessionID", id).Msg("Error touching chat session in MongoDB")
		return nil, err
	}
	return &session, nil
}

// ListSessionsByUser retrieves a user's sessions, optionally filtered.
func (r *SessionRepositoryMongo) ListSessionsByUser(ctx context.Context, userID string, filter domain.SessionFilter) ([]*domain.ChatSession, error) {
	mongoFilter := bson.M{"user_id": userID}
	if filter.ChatbotID != "" {
		mongoFilter["chatbot_id"] = filter.ChatbotID
	}
	if !filter.FromDate.IsZero() || !filter.ToDate.IsZero() {
		dateFilter := bson.M{}
		if !filter.FromDate.IsZero() {
			dateFilter["$gte"] = filter.FromDate
		}
		if !filter.ToDate.IsZero() {
			dateFilter["$lte"] = filter.ToDate
		}
		mongoFilter["last_accessed_at"] = dateFilter
	}

	cursor, err := r.collection.Find(ctx, mongoFilter,
		options.Find().SetSort(bson.D{{Key: "last_accessed_at", Value: -1}}))
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error listing chat sessions from MongoDB")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*domain.ChatSession
	if err = cursor.All(ctx, &sessions); err != nil {
		log.Error().Err(err).Msg("Error decoding listed chat sessions from MongoDB")
		return nil, err
	}
	return sessions, nil
}

// Ensure interface compliance
var _ domain.SessionRepository = (*SessionRepositoryMongo)(nil)
