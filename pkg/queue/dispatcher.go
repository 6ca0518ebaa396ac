// Package queue feeds provisioning jobs from a Redis stream to the orchestrator
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ahura-cloud/kube-provisioner/pkg/bootstrap"
	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/config"
	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
)

const (
	fieldPayload   = "payload"
	fieldClusterID = "cluster_id"

	EventCompleted = "completed"
	EventFailed    = "failed"

	defaultBlock = 5 * time.Second
	eventsMaxLen = 10000
)

// Runner provisions one job. *bootstrap.Orchestrator is the real one.
type Runner interface {
	Run(ctx context.Context, job *cluster.Job) (*bootstrap.Result, error)
}

// EventsStream is the stream job outcomes are appended to
func EventsStream(stream string) string {
	return stream + ":events"
}

// Connect opens a client for url and makes sure the server answers
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Enqueue validates job and appends it to stream. Invalid jobs never reach the queue.
func Enqueue(ctx context.Context, client redis.UniversalClient, stream string, job *cluster.Job) (string, error) {
	if err := job.Spec.Validate(); err != nil {
		return "", err
	}
	data, err := job.MarshalPayload()
	if err != nil {
		return "", err
	}
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			fieldClusterID: job.Spec.ID,
			fieldPayload:   string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue cluster %s: %w", job.Spec.ID, err)
	}
	return id, nil
}

// Dispatcher consumes the job stream as a member of a consumer group, one
// message at a time. Every message is acknowledged after a single attempt,
// whatever its outcome.
type Dispatcher struct {
	logger  *log.Entry
	client  redis.UniversalClient
	runner  Runner
	metrics *metrics.Metrics

	stream     string
	group      string
	consumer   string
	visibility time.Duration
	block      time.Duration
	defaults   cluster.Defaults
}

func NewDispatcher(logger *log.Entry, client redis.UniversalClient, runner Runner, m *metrics.Metrics, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		logger:     logger.WithField("component", "dispatcher"),
		client:     client,
		runner:     runner,
		metrics:    m,
		stream:     cfg.QueueName,
		group:      cfg.ConsumerGroup,
		consumer:   cfg.ConsumerName,
		visibility: cfg.VisibilityTimeout,
		block:      defaultBlock,
		defaults:   cfg.JobDefaults(),
	}
}

// Setup creates the stream and the consumer group if they do not exist yet
func (d *Dispatcher) Setup(ctx context.Context) error {
	err := d.client.XGroupCreateMkStream(ctx, d.stream, d.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", d.group, d.stream, err)
	}
	return nil
}

// Run polls until ctx is cancelled. A job that is already running is finished
// before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Setup(ctx); err != nil {
		return err
	}
	d.logger.Infof("consuming %s as %s/%s", d.stream, d.group, d.consumer)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := d.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Errorf("poll failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll handles at most one message: a stale one left behind by a crashed
// consumer if there is any, otherwise a new one. It reports whether a message
// was handled.
func (d *Dispatcher) Poll(ctx context.Context) (bool, error) {
	msg, err := d.next(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	d.handle(ctx, *msg)
	return true, nil
}

func (d *Dispatcher) next(ctx context.Context) (*redis.XMessage, error) {
	if d.visibility > 0 {
		claimed, _, err := d.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   d.stream,
			Group:    d.group,
			Consumer: d.consumer,
			MinIdle:  d.visibility,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to reclaim stale messages: %w", err)
		}
		if len(claimed) > 0 {
			d.logger.Warnf("reclaimed message %s idle for more than %s", claimed[0].ID, d.visibility)
			d.metrics.RecordQueueMessage("reclaimed")
			return &claimed[0], nil
		}
	}

	streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    d.group,
		Consumer: d.consumer,
		Streams:  []string{d.stream, ">"},
		Count:    1,
		Block:    d.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %s: %w", d.stream, err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return &s.Messages[0], nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) handle(ctx context.Context, msg redis.XMessage) {
	logger := d.logger.WithField("message", msg.ID)
	// the job runs to completion even when the worker is asked to stop
	jobCtx := context.WithoutCancel(ctx)

	job, err := parseMessage(msg, d.defaults)
	if err != nil {
		logger.Warnf("rejecting message: %v", err)
		d.metrics.RecordQueueMessage("invalid")
		d.publish(jobCtx, logger, msg, clusterIDOf(msg), nil, err)
		d.ack(jobCtx, logger, msg)
		return
	}

	logger = logger.WithField("cluster", job.Spec.ID)
	logger.Infof("provisioning cluster %s", job.Spec.Name)
	res, err := d.runner.Run(jobCtx, job)
	if err != nil {
		d.metrics.RecordQueueMessage("failed")
	} else {
		d.metrics.RecordQueueMessage("completed")
	}
	d.publish(jobCtx, logger, msg, job.Spec.ID, res, err)
	d.ack(jobCtx, logger, msg)
}

func (d *Dispatcher) ack(ctx context.Context, logger *log.Entry, msg redis.XMessage) {
	if err := d.client.XAck(ctx, d.stream, d.group, msg.ID).Err(); err != nil {
		logger.Errorf("failed to ack: %v", err)
	}
}

// publish appends the outcome of a job to the events stream
func (d *Dispatcher) publish(ctx context.Context, logger *log.Entry, msg redis.XMessage, clusterID string, res *bootstrap.Result, jobErr error) {
	values := map[string]any{
		fieldClusterID: clusterID,
		"message_id":   msg.ID,
		"status":       EventCompleted,
		"at":           time.Now().UTC().Format(time.RFC3339Nano),
	}
	if jobErr != nil {
		values["status"] = EventFailed
		values["error"] = jobErr.Error()
	}
	if res != nil {
		values["kubeconfig"] = res.KubeconfigPath
		if len(res.Warnings) > 0 {
			values["warnings"] = strings.Join(res.Warnings, "\n")
		}
	}
	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventsStream(d.stream),
		MaxLen: eventsMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		logger.Errorf("failed to publish %s event: %v", values["status"], err)
	}
}

func parseMessage(msg redis.XMessage, defaults cluster.Defaults) (*cluster.Job, error) {
	raw, ok := msg.Values[fieldPayload].(string)
	if !ok {
		return nil, cluster.NewValidationError("message %s has no %s field", msg.ID, fieldPayload)
	}
	return cluster.ParseJob([]byte(raw), defaults)
}

func clusterIDOf(msg redis.XMessage) string {
	id, _ := msg.Values[fieldClusterID].(string)
	return id
}
