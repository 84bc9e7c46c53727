package controllers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/metrics"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

const activityTopic = "watchlog.activity"

// ActivityMeta is the optional detail attached to an activity
type ActivityMeta struct {
	Episode *models.EpisodeRef
	Rating  *int
}

// ActivityRecorder records activities after successful transitions
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind models.ActivityKind, ref models.MediaRef, meta ActivityMeta)
}

// ActivityEmitter publishes activities on an in-process topic and persists
// them from a single subscriber. Failures are logged and counted, never
// returned to the caller.
type ActivityEmitter struct {
	db     *models.Database
	pubSub *gochannel.GoChannel
	logger *logrus.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewActivityEmitter creates the emitter and starts its subscriber
func NewActivityEmitter(db *models.Database, buffer int, logger *logrus.Logger) (*ActivityEmitter, error) {
	if buffer <= 0 {
		buffer = 256
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(buffer),
	}, NewWatermillLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubSub.Subscribe(ctx, activityTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to activity topic: %w", err)
	}

	e := &ActivityEmitter{
		db:     db,
		pubSub: pubSub,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.idle = sync.NewCond(&e.mu)

	go e.consume(messages)

	return e, nil
}

// Record queues one activity event
func (e *ActivityEmitter) Record(ctx context.Context, userID string, kind models.ActivityKind, ref models.MediaRef, meta ActivityMeta) {
	event := &models.ActivityEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       kind,
		MediaType:  ref.Type,
		MediaID:    ref.ID,
		Rating:     meta.Rating,
		OccurredAt: time.Now().UTC(),
	}
	if meta.Episode != nil {
		season, number := meta.Episode.Season, meta.Episode.Number
		event.Season = &season
		event.Episode = &number
	}

	fields := logrus.Fields{
		"activity_id": event.ID,
		"user_id":     userID,
		"kind":        kind,
		"media":       ref.Key(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		metrics.ActivityFailures.WithLabelValues("encode").Inc()
		e.logger.WithError(err).WithFields(fields).Error("Failed to encode activity")
		return
	}

	if !e.begin() {
		metrics.ActivityFailures.WithLabelValues("closed").Inc()
		e.logger.WithFields(fields).Warn("Activity emitter closed, dropping activity")
		return
	}

	msg := message.NewMessage(event.ID, payload)
	if err := e.pubSub.Publish(activityTopic, msg); err != nil {
		e.finish()
		metrics.ActivityFailures.WithLabelValues("publish").Inc()
		e.logger.WithError(err).WithFields(fields).Error("Failed to publish activity")
		return
	}

	e.logger.WithFields(fields).Debug("Activity queued")
}

func (e *ActivityEmitter) consume(messages <-chan *message.Message) {
	defer close(e.done)

	for msg := range messages {
		e.persist(msg)
		// Ack even on failure: redelivery would only repeat the same error
		msg.Ack()
		e.finish()
	}
}

func (e *ActivityEmitter) persist(msg *message.Message) {
	var event models.ActivityEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.ActivityFailures.WithLabelValues("decode").Inc()
		e.logger.WithError(err).WithField("message_uuid", msg.UUID).Error("Failed to decode activity")
		return
	}

	if err := e.db.AppendActivity(context.Background(), &event); err != nil {
		metrics.ActivityFailures.WithLabelValues("persist").Inc()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"activity_id": event.ID,
			"kind":        event.Kind,
		}).Error("Failed to persist activity")
		return
	}

	metrics.ActivityRecorded.Inc()
}

func (e *ActivityEmitter) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.pending++
	return true
}

func (e *ActivityEmitter) finish() {
	e.mu.Lock()
	e.pending--
	if e.pending == 0 {
		e.idle.Broadcast()
	}
	e.mu.Unlock()
}

// Flush blocks until every queued activity has been handled
func (e *ActivityEmitter) Flush() {
	e.mu.Lock()
	for e.pending > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()
}

// Close drains queued activities and stops the subscriber
func (e *ActivityEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.Flush()
	e.cancel()
	err := e.pubSub.Close()
	<-e.done
	return err
}

// watermillLogger adapts logrus to the watermill logger interface
type watermillLogger struct {
	entry *logrus.Entry
}

// NewWatermillLogger wraps a logrus logger for watermill components
func NewWatermillLogger(logger *logrus.Logger) watermill.LoggerAdapter {
	return &watermillLogger{entry: logrus.NewEntry(logger).WithField("component", "watermill")}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}
