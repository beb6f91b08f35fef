package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRender = "queue:render"

	// ProgressHash stores the last reported progress of every render.
	ProgressHash = "render:progress"
)

// ProgressChannel is the pub/sub channel carrying one render's progress.
func ProgressChannel(renderID uuid.UUID) string {
	return "render:progress:" + renderID.String()
}

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	RenderID  uuid.UUID `json:"render_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is one progress notification.
type Progress struct {
	RenderID uuid.UUID `json:"render_id"`
	Percent  float64   `json:"percent"`
	Stage    string    `json:"stage"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeJob(result[1])
}

func decodeJob(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// EnqueueRender enqueues a video rendering job
func (q *Queue) EnqueueRender(ctx context.Context, renderID uuid.UUID) error {
	job := &Job{
		ID:       uuid.New(),
		Type:     "render",
		RenderID: renderID,
	}
	return q.Enqueue(ctx, QueueRender, job)
}

// PublishProgress announces progress on the render's channel and records it
// as the latest value.
func (q *Queue) PublishProgress(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, ProgressChannel(p.RenderID), data)
		pipe.HSet(ctx, ProgressHash, p.RenderID.String(), data)
		return nil
	})
	return err
}

// LastProgress returns the latest published progress, or nil if none.
func (q *Queue) LastProgress(ctx context.Context, renderID uuid.UUID) (*Progress, error) {
	raw, err := q.client.HGet(ctx, ProgressHash, renderID.String()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &p, nil
}

// ClearProgress forgets the latest progress of a finished render.
func (q *Queue) ClearProgress(ctx context.Context, renderID uuid.UUID) error {
	return q.client.HDel(ctx, ProgressHash, renderID.String()).Err()
}
