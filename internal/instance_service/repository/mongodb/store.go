// Package mongodb stores session artifacts in a document database: one
// collection per instance inside the "<prefix>-instances" database, one
// document per artifact keyed by its name.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

type artifactDocument struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// staleFilter mirrors domain.IsEphemeralArtifact on the server side.
var staleFilter = bson.M{"$or": bson.A{
	bson.M{"_id": primitive.Regex{Pattern: `^app\.state.*`}},
	bson.M{"_id": primitive.Regex{Pattern: `^session-.*`}},
}}

// Store is the document-database ArtifactStore.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

var _ domain.ArtifactStore = (*Store)(nil)

// NewStore connects to uri and verifies the primary is reachable.
func NewStore(ctx context.Context, uri, prefix string, logger *slog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", domain.ErrBackendUnavailable, err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping: %v", domain.ErrBackendUnavailable, err)
	}
	return NewStoreWithClient(client, prefix, logger), nil
}

// NewStoreWithClient wraps an already connected client.
func NewStoreWithClient(client *mongo.Client, prefix string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		db:     client.Database(prefix + "-instances"),
		logger: logger.With("component", "artifact_store_mongodb"),
	}
}

func (s *Store) Kind() string { return "mongodb" }

// systemPrefix marks collections reserved by the server (system.views, system.profile).
const systemPrefix = "system."

func (s *Store) collection(name string) (*mongo.Collection, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, systemPrefix) {
		return nil, fmt.Errorf("%w: reserved collection %q", domain.ErrInvalidName, name)
	}
	return s.db.Collection(name), nil
}

func (s *Store) ListInstanceNames(ctx context.Context) ([]string, error) {
	all, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", domain.ErrBackendUnavailable, err)
	}
	names := make([]string, 0, len(all))
	for _, n := range all {
		if domain.ValidateName(n) == nil && !strings.HasPrefix(n, systemPrefix) {
			names = append(names, n)
		}
	}
	return names, nil
}

// PurgeInstance drops the instance collection. Dropping a missing collection succeeds.
func (s *Store) PurgeInstance(ctx context.Context, name string) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	if err := coll.Drop(ctx); err != nil {
		return fmt.Errorf("%w: drop %s: %v", domain.ErrBackendUnavailable, name, err)
	}
	s.logger.InfoContext(ctx, "Instance artifacts purged", "instance", name)
	return nil
}

func (s *Store) PurgeStaleArtifacts(ctx context.Context) (int, error) {
	names, err := s.ListInstanceNames(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		res, err := s.db.Collection(name).DeleteMany(ctx, staleFilter)
		if err != nil {
			return removed, fmt.Errorf("%w: sweep %s: %v", domain.ErrBackendUnavailable, name, err)
		}
		removed += int(res.DeletedCount)
	}
	return removed, nil
}

func (s *Store) WriteArtifact(ctx context.Context, name, key string, data []byte) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	if err := domain.ValidateArtifactKey(key); err != nil {
		return err
	}
	doc := artifactDocument{Key: key, Data: data, UpdatedAt: time.Now().UTC()}
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: upsert %s/%s: %v", domain.ErrBackendUnavailable, name, key, err)
	}
	return nil
}

func (s *Store) ReadArtifact(ctx context.Context, name, key string) ([]byte, error) {
	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateArtifactKey(key); err != nil {
		return nil, err
	}
	var doc artifactDocument
	if err := coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("%w: find %s/%s: %v", domain.ErrBackendUnavailable, name, key, err)
	}
	return doc.Data, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
