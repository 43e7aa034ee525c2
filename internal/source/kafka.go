package source

import (
	"context"
	"errors"
	"io"
	"time"

	"procnotify/internal/config"
	logx "procnotify/pkg/logx"

	"github.com/segmentio/kafka-go"
)

// Kafka consumes JSON events from a topic as part of a consumer group.
type Kafka struct {
	cfg config.KafkaSourceConfig
	log logx.Logger
}

func NewKafka(cfg config.KafkaSourceConfig, log logx.Logger) *Kafka {
	if cfg.GroupID == "" {
		cfg.GroupID = "procnotify"
	}
	return &Kafka{cfg: cfg, log: log.With(logx.String("comp", "source.kafka"), logx.String("topic", cfg.Topic))}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Run(ctx context.Context, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.SplitList(k.cfg.Brokers),
		Topic:          k.cfg.Topic,
		GroupID:        k.cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	defer r.Close()
	k.log.Info("kafka consumer started", logx.String("group", k.cfg.GroupID))

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return &TerminatedError{Source: k.Name(), Reason: "reader closed", Err: err}
			}
			return err
		}
		ev, shutdown, err := decode(m.Value)
		if err != nil {
			k.log.Warn("skipping malformed event",
				logx.Int("partition", m.Partition),
				logx.Int64("offset", m.Offset),
				logx.Err(err),
			)
			continue
		}
		if shutdown != "" {
			h.HandleShutdown(shutdown)
			continue
		}
		h.HandleEvent(ev)
	}
}
