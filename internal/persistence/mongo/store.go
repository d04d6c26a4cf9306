// Package mongo stores events in MongoDB, one document per event, in the
// same JSON shape the scheduler encodes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

const (
	eventsCollection  = "events"
	orphansCollection = "orphaned_slots"

	// purgeAttempts bounds how often a retention pass re-reads an event that
	// changed underneath it.
	purgeAttempts = 3

	illegalOperationCode = 20
)

// Store implements persistence.Store on a MongoDB database.
type Store struct {
	client   *mongo.Client
	events   *mongo.Collection
	orphans  *mongo.Collection
	migrator *scheduler.Migrator
	logger   *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

type eventRecord struct {
	ID           string     `bson:"_id"`
	OwnerID      string     `bson:"owner_id"`
	Discipline   string     `bson:"discipline"`
	State        string     `bson:"state"`
	PendingCount int        `bson:"pending_count"`
	StartDate    *time.Time `bson:"start_date"`
	Version      int64      `bson:"version"`
	Document     bson.Raw   `bson:"document"`
}

type orphanRecord struct {
	EventID    string    `bson:"event_id"`
	SlotID     string    `bson:"slot_id"`
	StartDate  time.Time `bson:"start_date"`
	EndDate    time.Time `bson:"end_date"`
	Status     string    `bson:"status"`
	OrphanedAt time.Time `bson:"orphaned_at"`
}

// Connect opens a client, verifies it and returns a store on dbName.
func Connect(ctx context.Context, uri, dbName string, migrator *scheduler.Migrator, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	store := &Store{
		client:   client,
		events:   db.Collection(eventsCollection),
		orphans:  db.Collection(orphansCollection),
		migrator: migrator,
		logger:   logger.With("component", "mongo_store"),
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	store.logger.Info("mongodb store ready", "database", dbName)
	return store, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		{Keys: bson.D{{Key: "start_date", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	_, err = s.orphans.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "slot_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create orphan index: %w", err)
	}
	return nil
}

// Database exposes the underlying database for tests and tooling.
func (s *Store) Database() *mongo.Database {
	return s.events.Database()
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateEvent inserts the event at version 1.
func (s *Store) CreateEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Version = 1
	stored.Project()

	record, err := toRecord(stored)
	if err != nil {
		return scheduler.Event{}, err
	}
	if _, err := s.events.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return scheduler.Event{}, persistence.ErrDuplicate
		}
		return scheduler.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return stored, nil
}

// GetEvent loads and decodes one event.
func (s *Store) GetEvent(ctx context.Context, id string) (scheduler.Event, error) {
	var record eventRecord
	if err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return scheduler.Event{}, persistence.ErrNotFound
		}
		return scheduler.Event{}, fmt.Errorf("find event: %w", err)
	}
	return s.fromRecord(record)
}

// SaveEvent replaces the document when the stored version still matches.
func (s *Store) SaveEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Version = event.Version + 1
	stored.Project()

	record, err := toRecord(stored)
	if err != nil {
		return scheduler.Event{}, err
	}
	result, err := s.events.ReplaceOne(ctx, bson.M{"_id": stored.ID, "version": event.Version}, record)
	if err != nil {
		return scheduler.Event{}, fmt.Errorf("replace event: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := s.events.CountDocuments(ctx, bson.M{"_id": stored.ID})
		if err != nil {
			return scheduler.Event{}, fmt.Errorf("check event: %w", err)
		}
		if count == 0 {
			return scheduler.Event{}, persistence.ErrNotFound
		}
		return scheduler.Event{}, persistence.ErrVersionConflict
	}
	return stored, nil
}

// DeleteEvent removes the event and parks its slots as orphans.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	var record eventRecord
	if err := s.events.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return persistence.ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}
	event, err := s.fromRecord(record)
	if err != nil {
		return err
	}
	if len(event.TimeSlots) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]any, 0, len(event.TimeSlots))
	for _, slot := range event.TimeSlots {
		docs = append(docs, orphanRecord{
			EventID:    event.ID,
			SlotID:     slot.ID,
			StartDate:  slot.StartDate,
			EndDate:    slot.EndDate,
			Status:     string(slot.Status),
			OrphanedAt: now,
		})
	}
	if _, err := s.orphans.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("park orphaned slots: %w", err)
	}
	return nil
}

// ListEvents returns matching events ordered by start date, then id.
func (s *Store) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]scheduler.Event, error) {
	query := bson.M{}
	if filter.OwnerID != "" {
		query["owner_id"] = filter.OwnerID
	}
	if filter.Discipline != "" {
		query["discipline"] = string(filter.Discipline)
	}
	if filter.State != "" {
		query["state"] = string(filter.State)
	}
	if filter.PendingOnly {
		query["pending_count"] = bson.M{"$gt": 0}
	}

	opts := options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.events.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cursor.Close(ctx)

	var records []eventRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	events := make([]scheduler.Event, 0, len(records))
	for _, record := range records {
		event, err := s.fromRecord(record)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// PurgeSlots runs the purge in one multi-document transaction. Standalone
// servers do not support transactions; there the ledgers are pruned one event
// at a time with version-guarded replaces, re-reading an event that changed
// concurrently.
func (s *Store) PurgeSlots(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	if criteria.DryRun {
		return s.purge(ctx, criteria)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return persistence.PurgeReport{}, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return s.purge(sc, criteria)
	})
	if transactionsUnsupported(err) {
		s.logger.Warn("transactions unavailable, purging event by event", "error", err)
		return s.purge(ctx, criteria)
	}
	if err != nil {
		return persistence.PurgeReport{}, err
	}
	return result.(persistence.PurgeReport), nil
}

// transactionsUnsupported reports the IllegalOperation error a standalone
// server returns for transactions.
func transactionsUnsupported(err error) bool {
	var serverErr mongo.ServerError
	return errors.As(err, &serverErr) && serverErr.HasErrorCode(illegalOperationCode)
}

func (s *Store) purge(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	report := persistence.PurgeReport{DryRun: criteria.DryRun}

	orphans, err := s.orphans.CountDocuments(ctx, bson.M{})
	if err != nil {
		return report, fmt.Errorf("count orphaned slots: %w", err)
	}
	report.OrphanedSlots = int(orphans)

	cursor, err := s.events.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return report, fmt.Errorf("list events: %w", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return report, fmt.Errorf("decode event ids: %w", err)
	}

	for _, ref := range ids {
		counts, err := s.pruneOne(ctx, ref.ID, criteria)
		if err != nil {
			return report, err
		}
		report.AddCounts(ref.ID, counts)
	}

	if !criteria.DryRun && orphans > 0 {
		if _, err := s.orphans.DeleteMany(ctx, bson.M{}); err != nil {
			return report, fmt.Errorf("purge orphaned slots: %w", err)
		}
	}
	return report, nil
}

func (s *Store) pruneOne(ctx context.Context, id string, criteria persistence.PurgeCriteria) (scheduler.PruneCounts, error) {
	for attempt := 0; attempt < purgeAttempts; attempt++ {
		event, err := s.GetEvent(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			return scheduler.PruneCounts{}, nil
		}
		if err != nil {
			return scheduler.PruneCounts{}, err
		}
		counts := scheduler.PruneLedger(&event, criteria.Cutoffs)
		if counts.Empty() || criteria.DryRun {
			return counts, nil
		}
		_, err = s.SaveEvent(ctx, event)
		switch {
		case err == nil:
			return counts, nil
		case errors.Is(err, persistence.ErrVersionConflict):
			s.logger.Debug("event changed during retention, retrying", "event_id", id, "attempt", attempt+1)
			continue
		default:
			return scheduler.PruneCounts{}, err
		}
	}
	return scheduler.PruneCounts{}, fmt.Errorf("prune event %s: %w", id, persistence.ErrVersionConflict)
}

func toRecord(e scheduler.Event) (eventRecord, error) {
	raw, err := scheduler.EncodeEvent(e)
	if err != nil {
		return eventRecord{}, err
	}
	var document bson.Raw
	if err := bson.UnmarshalExtJSON(raw, false, &document); err != nil {
		return eventRecord{}, fmt.Errorf("convert event %s to bson: %w", e.ID, err)
	}
	record := eventRecord{
		ID:           e.ID,
		OwnerID:      e.OwnerID,
		Discipline:   string(e.Discipline),
		State:        string(e.State),
		PendingCount: len(e.EventModifying),
		Version:      e.Version,
		Document:     document,
	}
	if !e.StartDate.IsZero() {
		start := e.StartDate.UTC()
		record.StartDate = &start
	}
	return record, nil
}

func (s *Store) fromRecord(record eventRecord) (scheduler.Event, error) {
	raw, err := bson.MarshalExtJSON(record.Document, false, false)
	if err != nil {
		return scheduler.Event{}, fmt.Errorf("convert event %s from bson: %w", record.ID, err)
	}
	event, _, err := s.migrator.MigrateLegacyEvent(raw)
	if err != nil {
		return scheduler.Event{}, err
	}
	event.Version = record.Version
	return event, nil
}
