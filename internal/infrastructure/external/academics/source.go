// Package academics reads student academic records from the records
// system's MongoDB database. The pipeline only ever reads from it.
package academics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the records database.
type Config struct {
	URI      string
	Database string

	StudentsCollection string
	MarksCollection    string

	// Timeout bounds each query.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(uri string) Config {
	return Config{
		URI:                uri,
		Database:           "academics",
		StudentsCollection: "students",
		MarksCollection:    "internal_marks",
		Timeout:            10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// Source implements student.Source over MongoDB.
type Source struct {
	client   *mongo.Client
	students *mongo.Collection
	marks    *mongo.Collection
	mapper   *Mapper
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Connect opens the records database and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return NewSource(client, cfg), nil
}

// NewSource wraps an existing client.
func NewSource(client *mongo.Client, cfg Config) *Source {
	def := DefaultConfig(cfg.URI)
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.StudentsCollection == "" {
		cfg.StudentsCollection = def.StudentsCollection
	}
	if cfg.MarksCollection == "" {
		cfg.MarksCollection = def.MarksCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db := client.Database(cfg.Database)
	return &Source{
		client:   client,
		students: db.Collection(cfg.StudentsCollection),
		marks:    db.Collection(cfg.MarksCollection),
		mapper:   NewMapper(),
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

var _ student.Source = (*Source)(nil)

// Close disconnects from MongoDB.
func (s *Source) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the connection.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Snapshot implements student.Source.
func (s *Source) Snapshot(ctx context.Context, userID string) (*student.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc StudentDoc
	err := s.students.FindOne(ctx, bson.M{"usn": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("find student %s: %w", userID, err)
	}

	cursor, err := s.marks.Find(ctx, bson.M{"usn": userID},
		options.Find().SetSort(bson.D{{Key: "semester", Value: -1}}).SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("find internal marks %s: %w", userID, err)
	}
	var marks []InternalMarksDoc
	if err := cursor.All(ctx, &marks); err != nil {
		return nil, fmt.Errorf("decode internal marks %s: %w", userID, err)
	}

	return s.mapper.ToSnapshot(&doc, marks, s.now()), nil
}

// ActiveStudents implements student.Source. Students without an isActive
// flag count as active.
func (s *Source) ActiveStudents(ctx context.Context) ([]student.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"isActive": bson.M{"$ne": false}, "usn": bson.M{"$nin": bson.A{nil, ""}}}
	projection := bson.M{"usn": 1, "name": 1, "mentorId": 1}
	cursor, err := s.students.Find(ctx, filter,
		options.Find().SetProjection(projection).SetSort(bson.D{{Key: "usn", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]student.Summary, 0)
	for cursor.Next(ctx) {
		var doc StudentDoc
		if err := cursor.Decode(&doc); err != nil {
			s.logger.Warn("skipping undecodable student document", "error", err)
			continue
		}
		out = append(out, s.mapper.ToSummary(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}
