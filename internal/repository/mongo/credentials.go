package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/repository"
)

const nameIndex = "credentials_name_unique"

// credentialDocument is the stored shape. An empty refresh_token_hash means no active session.
type credentialDocument struct {
	ID                    string     `bson:"_id"`
	Name                  string     `bson:"name"`
	CredentialHash        string     `bson:"credential_hash"`
	RecoveryQuestion      string     `bson:"recovery_question"`
	RecoveryAnswerHash    string     `bson:"recovery_answer_hash"`
	RefreshTokenHash      string     `bson:"refresh_token_hash"`
	RefreshTokenExpiresAt *time.Time `bson:"refresh_token_expires_at,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

func toDocument(r domain.UserRecord) credentialDocument {
	return credentialDocument{
		ID:                    r.ID,
		Name:                  r.Name,
		CredentialHash:        r.CredentialHash,
		RecoveryQuestion:      r.RecoveryQuestion,
		RecoveryAnswerHash:    r.RecoveryAnswerHash,
		RefreshTokenHash:      r.RefreshTokenHash,
		RefreshTokenExpiresAt: r.RefreshTokenExpiresAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func (d credentialDocument) record() *domain.UserRecord {
	r := &domain.UserRecord{
		ID:                 d.ID,
		Name:               d.Name,
		CredentialHash:     d.CredentialHash,
		RecoveryQuestion:   d.RecoveryQuestion,
		RecoveryAnswerHash: d.RecoveryAnswerHash,
		RefreshTokenHash:   d.RefreshTokenHash,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
	if d.RefreshTokenExpiresAt != nil {
		expiry := d.RefreshTokenExpiresAt.UTC()
		r.RefreshTokenExpiresAt = &expiry
	}
	return r
}

// CredentialStore implements port.CredentialStore on a MongoDB collection.
type CredentialStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewCredentialStore(coll *mongo.Collection) *CredentialStore {
	return &CredentialStore{
		coll: coll,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for updated_at.
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	if now != nil {
		s.now = now
	}
	return s
}

// EnsureIndexes creates the unique index on name. Safe to call on every start.
func (s *CredentialStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(nameIndex),
	})
	if err != nil {
		return fmt.Errorf("create name index: %w", err)
	}
	return nil
}

func (s *CredentialStore) FindByName(ctx context.Context, name string) (*domain.UserRecord, error) {
	return s.findOne(ctx, bson.M{"name": name})
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *CredentialStore) findOne(ctx context.Context, filter bson.M) (*domain.UserRecord, error) {
	var doc credentialDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return doc.record(), nil
}

func (s *CredentialStore) Insert(ctx context.Context, record domain.UserRecord) (*domain.UserRecord, error) {
	doc := toDocument(record)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, repository.ErrDuplicateName
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}
	return doc.record(), nil
}

// refreshTokenFilter matches the record only while its stored hash equals expected.
// An empty expected value also matches a null or missing field, since records
// written before the field existed or by other writers may carry either.
func refreshTokenFilter(id, expected string) bson.M {
	if expected != "" {
		return bson.M{"_id": id, "refresh_token_hash": expected}
	}
	return bson.M{"_id": id, "$or": bson.A{
		bson.M{"refresh_token_hash": ""},
		bson.M{"refresh_token_hash": nil},
		bson.M{"refresh_token_hash": bson.M{"$exists": false}},
	}}
}

func (s *CredentialStore) CompareAndSetRefreshToken(ctx context.Context, id, expected, next string, expiresAt time.Time) (bool, error) {
	filter := refreshTokenFilter(id, expected)
	update := bson.M{"$set": bson.M{
		"refresh_token_hash":       next,
		"refresh_token_expires_at": expiresAt.UTC(),
		"updated_at":               s.now(),
	}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *CredentialStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.M{
		"$set":   bson.M{"refresh_token_hash": "", "updated_at": s.now()},
		"$unset": bson.M{"refresh_token_expires_at": ""},
	})
}

func (s *CredentialStore) UpdateCredential(ctx context.Context, id, credentialHash string) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"credential_hash": credentialHash, "updated_at": s.now()},
	})
}

func (s *CredentialStore) CompareAndSetCredential(ctx context.Context, id, expected, next string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "credential_hash": expected},
		bson.M{"$set": bson.M{"credential_hash": next, "updated_at": s.now()}},
	)
	if err != nil {
		return false, fmt.Errorf("swap credential: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *CredentialStore) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

var (
	_ port.CredentialStore = (*CredentialStore)(nil)
	_ port.HealthChecker   = (*CredentialStore)(nil)
)
