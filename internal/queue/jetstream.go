package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/retry"
)

// JetStream dispatches jobs through a NATS JetStream work-queue stream.
type JetStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    config.NATSConfig
	logger *slog.Logger
}

var _ Dispatcher = (*JetStream)(nil)

// ConnectJetStream connects to cfg.URL and creates or updates the work-queue stream.
func ConnectJetStream(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("polydocs"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryQueue, "connect to NATS").
			WithContext("url", cfg.URL).Retryable().Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.CategoryQueue, "create JetStream context").Build()
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "PolyDocs build jobs",
		Subjects:    []string{cfg.Subject},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.CategoryQueue, "ensure build stream").
			WithContext("stream", cfg.Stream).Build()
	}
	logger.Info("JetStream build queue ready",
		slog.String("url", cfg.URL), slog.String("stream", cfg.Stream), slog.String("subject", cfg.Subject))
	return &JetStream{conn: conn, js: js, stream: stream, cfg: cfg, logger: logger}, nil
}

// Submit publishes job. The build id is the message id, so resubmissions
// inside the stream's duplicate window are dropped by the server.
func (q *JetStream) Submit(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(job.BuildID)); err != nil {
		return errors.WrapError(err, errors.CategoryQueue, "publish build job").Retryable().Build()
	}
	q.logger.Debug("Build job published", logfields.BuildID(job.BuildID))
	return nil
}

// Consume starts a durable explicit-ack consumer that runs up to workers jobs at once.
func (q *JetStream) Consume(ctx context.Context, runner Runner, workers int, policy retry.Policy) (*Consumer, error) {
	if workers <= 0 {
		workers = 1
	}
	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.cfg.Consumer,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
		MaxAckPending: workers,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryQueue, "ensure build consumer").
			WithContext("consumer", q.cfg.Consumer).Build()
	}

	c := &Consumer{
		handler: &handler{
			runner:    runner,
			policy:    policy,
			heartbeat: q.cfg.AckWait / 2,
			logger:    q.logger,
		},
		slots: make(chan struct{}, workers),
	}
	jobCtx := context.WithoutCancel(ctx)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.slots <- struct{}{}
		c.wg.Add(1)
		go func() {
			defer func() {
				<-c.slots
				c.wg.Done()
			}()
			c.handler.handle(jobCtx, msg)
		}()
	}, jetstream.PullMaxMessages(workers))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryQueue, "start build consumer").Build()
	}
	c.cc = cc
	q.logger.Info("Consuming build jobs", slog.String("consumer", q.cfg.Consumer), slog.Int("workers", workers))
	return c, nil
}

// Close drains the connection.
func (q *JetStream) Close() {
	if q.conn != nil {
		_ = q.conn.Drain()
	}
}

// Consumer is a running JetStream subscription.
type Consumer struct {
	cc      jetstream.ConsumeContext
	handler *handler
	slots   chan struct{}
	wg      sync.WaitGroup
}

// Stop stops fetching and waits for running jobs to finish or ctx to end.
func (c *Consumer) Stop(ctx context.Context) error {
	c.cc.Stop()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running builds: %w", ctx.Err())
	}
}

// message is the part of jetstream.Msg the handler uses.
type message interface {
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	InProgress() error
	Term() error
	Metadata() (*jetstream.MsgMetadata, error)
}

type handler struct {
	runner    Runner
	policy    retry.Policy
	heartbeat time.Duration
	logger    *slog.Logger
}

// handle runs one delivery. Undecodable messages are terminated; jobs whose
// runner could not start them are negatively acknowledged with backoff.
func (h *handler) handle(ctx context.Context, msg message) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.BuildID == "" {
		h.logger.Error("Dropping undecodable build job", logfields.Error(err))
		_ = msg.Term()
		return
	}
	log := h.logger.With(logfields.BuildID(job.BuildID))

	stop := h.keepAlive(msg, log)
	err := h.runner.Run(ctx, job)
	stop()

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			log.Warn("Failed to ack build job", logfields.Error(ackErr))
		}
		return
	}

	attempt := 1
	if md, mdErr := msg.Metadata(); mdErr == nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered)
	}
	delay := h.policy.Delay(attempt)
	log.Warn("Build job could not run; scheduling redelivery",
		logfields.Error(err), slog.Int("attempt", attempt), slog.Duration("delay", delay))
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		log.Warn("Failed to nak build job", logfields.Error(nakErr))
	}
}

// keepAlive extends the ack deadline while a job runs.
func (h *handler) keepAlive(msg message, log *slog.Logger) (stop func()) {
	if h.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := msg.InProgress(); err != nil {
					log.Warn("Failed to extend build job ack deadline", logfields.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
