package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"draftforge/internal/util"
)

// RedisBus implements Bus on a Redis stream with a consumer group. Pending
// entries abandoned by a dead consumer are auto-claimed after claimIdle, so a
// crashed instance never strands an event.
type RedisBus struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	statusTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

// RedisBusConfig configures the stream transport. Zero values fall back to
// workable defaults.
type RedisBusConfig struct {
	Addr       string
	Password   string
	DB         int
	Stream     string
	Group      string
	Consumer   string
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewRedisBus validates config and builds the transport.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisBus{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		statusTTL:    statusTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish enqueues a stage event and records its delivery status.
func (b *RedisBus) Publish(ctx context.Context, evt Event) (Event, error) {
	evt.ProjectID = strings.TrimSpace(evt.ProjectID)
	if evt.ProjectID == "" {
		return Event{}, errors.New("projectId required")
	}
	if strings.TrimSpace(evt.Name) == "" {
		return Event{}, errors.New("event name required")
	}
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	status := DeliveryStatus{
		ID:        evt.ID,
		Name:      evt.Name,
		ProjectID: evt.ProjectID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := b.writeStatus(ctx, status); err != nil {
		return Event{}, err
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   evt.ID,
			"event":      evt.Name,
			"project_id": evt.ProjectID,
		},
	}).Err(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// GetDelivery returns the transport record for one event.
func (b *RedisBus) GetDelivery(ctx context.Context, eventID string) (DeliveryStatus, bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return DeliveryStatus{}, false, nil
	}
	data, err := b.client.HGetAll(ctx, b.statusKey(eventID)).Result()
	if err != nil {
		return DeliveryStatus{}, false, err
	}
	if len(data) == 0 {
		return DeliveryStatus{}, false, nil
	}
	return decodeDeliveryStatus(eventID, data), true, nil
}

// Start launches consumer goroutines that dispatch events to the handler
// until ctx is canceled.
func (b *RedisBus) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	b.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", b.consumerBase, i)
		go b.consumeLoop(ctx, consumer, handler)
	}
}

func (b *RedisBus) ensureGroup(ctx context.Context) {
	b.once.Do(func() {
		err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "stream", b.stream, "err", err)
		}
	})
}

func (b *RedisBus) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := b.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				b.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    b.readCount,
			Block:    b.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (b *RedisBus) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    b.group,
		Consumer: consumer,
		MinIdle:  b.claimIdle,
		Start:    "0-0",
		Count:    b.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *RedisBus) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	eventID, _ := msg.Values["event_id"].(string)
	name, _ := msg.Values["event"].(string)
	projectID, _ := msg.Values["project_id"].(string)
	if eventID == "" || name == "" || projectID == "" {
		b.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := b.markProcessing(ctx, eventID, name, projectID)
	if err != nil {
		b.ackAndDel(ctx, msg.ID)
		return
	}
	evt := Event{ID: eventID, Name: name, ProjectID: projectID}
	if err := handler(ctx, evt); err == nil {
		_ = b.markDone(ctx, eventID)
		b.ackAndDel(ctx, msg.ID)
		return
	} else if status.Attempts >= b.maxRetries {
		_ = b.markFailed(ctx, eventID, err.Error())
		b.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = b.markQueued(ctx, eventID, err.Error())
	}
	if b.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryDelay):
		}
	}
	_ = b.requeueAndAck(ctx, msg.ID, Event{ID: eventID, Name: name, ProjectID: projectID})
}

func (b *RedisBus) ackAndDel(ctx context.Context, msgID string) {
	_, _ = b.client.XAck(ctx, b.stream, b.group, msgID).Result()
	_, _ = b.client.XDel(ctx, b.stream, msgID).Result()
}

func (b *RedisBus) requeueAndAck(ctx context.Context, msgID string, evt Event) error {
	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   evt.ID,
			"event":      evt.Name,
			"project_id": evt.ProjectID,
		},
	})
	pipe.XAck(ctx, b.stream, b.group, msgID)
	pipe.XDel(ctx, b.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBus) markProcessing(ctx context.Context, eventID, name, projectID string) (DeliveryStatus, error) {
	status, _, err := b.GetDelivery(ctx, eventID)
	if err != nil {
		return DeliveryStatus{}, err
	}
	if status.ID == "" {
		status = DeliveryStatus{ID: eventID}
	}
	status.Name = name
	status.ProjectID = projectID
	status.Attempts++
	status.Status = StatusProcessing
	status.UpdatedAt = time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = status.UpdatedAt
	}
	if err := b.writeStatus(ctx, status); err != nil {
		return DeliveryStatus{}, err
	}
	return status, nil
}

func (b *RedisBus) markQueued(ctx context.Context, eventID, errMsg string) error {
	return b.setState(ctx, eventID, StatusQueued, errMsg)
}

func (b *RedisBus) markDone(ctx context.Context, eventID string) error {
	return b.setState(ctx, eventID, StatusDone, "")
}

func (b *RedisBus) markFailed(ctx context.Context, eventID, errMsg string) error {
	return b.setState(ctx, eventID, StatusFailed, errMsg)
}

func (b *RedisBus) setState(ctx context.Context, eventID, state, errMsg string) error {
	status, _, err := b.GetDelivery(ctx, eventID)
	if err != nil {
		return err
	}
	status.Status = state
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return b.writeStatus(ctx, status)
}

func (b *RedisBus) writeStatus(ctx context.Context, status DeliveryStatus) error {
	key := b.statusKey(status.ID)
	payload := map[string]any{
		"id":        status.ID,
		"name":      status.Name,
		"projectId": status.ProjectID,
		"status":    status.Status,
		"error":     status.ErrorMessage,
		"attempts":  strconv.Itoa(status.Attempts),
		"createdAt": status.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": status.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := b.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = b.client.Expire(ctx, key, b.statusTTL).Err()
	return nil
}

func (b *RedisBus) statusKey(eventID string) string {
	return fmt.Sprintf("event:%s:%s", b.stream, eventID)
}

func decodeDeliveryStatus(eventID string, data map[string]string) DeliveryStatus {
	status := DeliveryStatus{ID: eventID}
	if v := data["name"]; v != "" {
		status.Name = v
	}
	if v := data["projectId"]; v != "" {
		status.ProjectID = v
	}
	if v := data["status"]; v != "" {
		status.Status = v
	}
	if v := data["error"]; v != "" {
		status.ErrorMessage = v
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.UpdatedAt = t
		}
	}
	return status
}
