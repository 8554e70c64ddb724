// Package mongostore persists alerts and price observations in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/models"
)

const (
	alertsCollection       = "alerts"
	observationsCollection = "price_observations"
)

// Store is a MongoDB implementation of the alert and price stores.
type Store struct {
	client       *mongo.Client
	alerts       *mongo.Collection
	observations *mongo.Collection
}

type alertDoc struct {
	ID          string    `bson:"_id"`
	Symbol      string    `bson:"symbol"`
	TargetPrice string    `bson:"target_price"`
	Condition   string    `bson:"condition"`
	Triggered   bool      `bson:"triggered"`
	UserEmail   string    `bson:"user_email"`
	CreatedAt   time.Time `bson:"created_at"`
	TriggeredAt time.Time `bson:"triggered_at,omitempty"`
}

type observationDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Symbol     string             `bson:"symbol"`
	Price      string             `bson:"price"`
	ObservedAt time.Time          `bson:"observed_at"`
}

// New connects to uri, pings the server and ensures indexes.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:       client,
		alerts:       db.Collection(alertsCollection),
		observations: db.Collection(observationsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.alerts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "triggered", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.observations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "_id", Value: -1}},
	})
	return err
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func persistErr(op string, err error) error {
	return errs.Wrap(errs.CodePersistence, op, err)
}

// SaveAlert inserts a new alert, assigning ID and CreatedAt when unset.
func (s *Store) SaveAlert(ctx context.Context, alert *models.Alert) error {
	const op = "mongostore.SaveAlert"
	if err := alert.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalid, op, err)
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	if _, err := s.alerts.InsertOne(ctx, toAlertDoc(alert)); err != nil {
		return persistErr(op, fmt.Errorf("failed to insert alert: %w", err))
	}
	return nil
}

// GetAlert returns one alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	const op = "mongostore.GetAlert"
	var doc alertDoc
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.New(errs.CodeNotFound, op, "alert not found: "+id)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	a, err := fromAlertDoc(doc)
	if err != nil {
		return nil, persistErr(op, err)
	}
	return a, nil
}

// ListActiveAlerts returns every untriggered alert, oldest first.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.findAlerts(ctx, "mongostore.ListActiveAlerts", bson.M{"triggered": false})
}

// FindActiveAlerts returns the untriggered alerts for symbol.
func (s *Store) FindActiveAlerts(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.findAlerts(ctx, "mongostore.FindActiveAlerts", bson.M{"symbol": symbol, "triggered": false})
}

func (s *Store) findAlerts(ctx context.Context, op string, filter bson.M) ([]models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, persistErr(op, fmt.Errorf("failed to query alerts: %w", err))
	}
	defer cur.Close(ctx)

	alerts := []models.Alert{}
	for cur.Next(ctx) {
		var doc alertDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, persistErr(op, fmt.Errorf("failed to decode alert: %w", err))
		}
		a, err := fromAlertDoc(doc)
		if err != nil {
			return nil, persistErr(op, err)
		}
		alerts = append(alerts, *a)
	}
	if err := cur.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return alerts, nil
}

// MarkTriggered flips the alert's triggered flag; only one caller gets true.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.alerts.UpdateOne(ctx,
		bson.M{"_id": id, "triggered": false},
		bson.M{"$set": bson.M{"triggered": true, "triggered_at": at}},
	)
	if err != nil {
		return false, persistErr("mongostore.MarkTriggered", err)
	}
	return res.ModifiedCount == 1, nil
}

// SaveObservation appends a price observation.
func (s *Store) SaveObservation(ctx context.Context, obs models.PriceObservation) error {
	doc := observationDoc{Symbol: obs.Symbol, Price: obs.Price.String(), ObservedAt: obs.ObservedAt}
	if _, err := s.observations.InsertOne(ctx, doc); err != nil {
		return persistErr("mongostore.SaveObservation", fmt.Errorf("failed to insert observation: %w", err))
	}
	return nil
}

// LatestObservation returns the newest observation for symbol, or nil.
func (s *Store) LatestObservation(ctx context.Context, symbol string) (*models.PriceObservation, error) {
	const op = "mongostore.LatestObservation"
	var doc observationDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	err := s.observations.FindOne(ctx, bson.M{"symbol": symbol}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	price, err := decimal.NewFromString(doc.Price)
	if err != nil {
		return nil, persistErr(op, fmt.Errorf("stored price %q: %w", doc.Price, err))
	}
	return &models.PriceObservation{Symbol: doc.Symbol, Price: price, ObservedAt: doc.ObservedAt}, nil
}

func toAlertDoc(a *models.Alert) alertDoc {
	return alertDoc{
		ID:          a.ID,
		Symbol:      a.Symbol,
		TargetPrice: a.TargetPrice.String(),
		Condition:   string(a.Condition),
		Triggered:   a.Triggered,
		UserEmail:   a.UserEmail,
		CreatedAt:   a.CreatedAt,
		TriggeredAt: a.TriggeredAt,
	}
}

func fromAlertDoc(doc alertDoc) (*models.Alert, error) {
	target, err := decimal.NewFromString(doc.TargetPrice)
	if err != nil {
		return nil, fmt.Errorf("stored target price %q: %w", doc.TargetPrice, err)
	}
	return &models.Alert{
		ID:          doc.ID,
		Symbol:      doc.Symbol,
		TargetPrice: target,
		Condition:   models.Condition(doc.Condition),
		Triggered:   doc.Triggered,
		UserEmail:   doc.UserEmail,
		CreatedAt:   doc.CreatedAt,
		TriggeredAt: doc.TriggeredAt,
	}, nil
}
