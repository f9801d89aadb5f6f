package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

const (
	mainPartitions = 8
	dlqPartitions  = 2

	mainRetention = 7 * 24 * time.Hour
	dlqRetention  = 30 * 24 * time.Hour
)

type TopicSpec struct {
	Topic         string
	NumPartitions int
	Retention     time.Duration
}

// DefaultTopicSpecs covers the three order topics plus their DLQ variants.
// DLQ topics keep fewer partitions and a longer retention for inspection.
func DefaultTopicSpecs() []TopicSpec {
	mains := []string{schema.TopicOrderCreate, schema.TopicOrderStatus, schema.TopicOrderValidation}
	specs := make([]TopicSpec, 0, len(mains)*2)
	for _, t := range mains {
		specs = append(specs,
			TopicSpec{Topic: t, NumPartitions: mainPartitions, Retention: mainRetention},
			TopicSpec{Topic: schema.DLQTopic(t), NumPartitions: dlqPartitions, Retention: dlqRetention},
		)
	}
	return specs
}

// EnsureTopics creates the given topics, tolerating ones that already exist.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec) error {
	client := &kafka.Client{
		Addr:    kafka.TCP(brokers...),
		Timeout: 30 * time.Second,
	}

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		configs = append(configs, kafka.TopicConfig{
			Topic:             s.Topic,
			NumPartitions:     s.NumPartitions,
			ReplicationFactor: 1,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(s.Retention.Milliseconds(), 10)},
			},
		})
	}

	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: configs})
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	for topic, topicErr := range resp.Errors {
		if topicErr != nil && !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", topic, topicErr)
		}
	}
	return nil
}

// PartitionOffset is one partition's committed-offset position against the
// high-water mark.
type PartitionOffset struct {
	Partition     int   `json:"partition"`
	CurrentOffset int64 `json:"currentOffset"`
	HighWaterMark int64 `json:"highWaterMark"`
	Lag           int64 `json:"lag"`
}

// OffsetReader answers lag queries from the broker's admin API. It holds its
// own client so reads never contend with the data plane.
type OffsetReader struct {
	client *kafka.Client
}

func NewOffsetReader(brokers []string, timeout time.Duration) *OffsetReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	addrs := make([]string, len(brokers))
	copy(addrs, brokers)
	return &OffsetReader{client: &kafka.Client{Addr: kafka.TCP(addrs...), Timeout: timeout}}
}

// GroupTopicOffsets fetches, for every partition of topic, the group's
// committed offset and the partition high-water mark. A group that has never
// committed reads as fully lagging from offset 0.
func (r *OffsetReader) GroupTopicOffsets(ctx context.Context, groupID, topic string) ([]PartitionOffset, error) {
	meta, err := r.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, fmt.Errorf("kafka: metadata for %s: %w", topic, err)
	}
	var partitions []int
	for _, t := range meta.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, fmt.Errorf("kafka: topic %s: %w", topic, t.Error)
		}
		for _, p := range t.Partitions {
			partitions = append(partitions, p.ID)
		}
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("kafka: topic %s has no partitions", topic)
	}

	offsetReqs := make([]kafka.OffsetRequest, 0, len(partitions))
	for _, p := range partitions {
		offsetReqs = append(offsetReqs, kafka.LastOffsetOf(p))
	}
	listed, err := r.client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Topics: map[string][]kafka.OffsetRequest{topic: offsetReqs},
	})
	if err != nil {
		return nil, fmt.Errorf("kafka: list offsets for %s: %w", topic, err)
	}
	highWater := map[int]int64{}
	for _, po := range listed.Topics[topic] {
		if po.Error != nil {
			return nil, fmt.Errorf("kafka: list offsets %s[%d]: %w", topic, po.Partition, po.Error)
		}
		highWater[po.Partition] = po.LastOffset
	}

	fetched, err := r.client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: groupID,
		Topics:  map[string][]int{topic: partitions},
	})
	if err != nil {
		return nil, fmt.Errorf("kafka: offset fetch for group %s: %w", groupID, err)
	}
	committed := map[int]int64{}
	for _, op := range fetched.Topics[topic] {
		if op.Error != nil {
			return nil, fmt.Errorf("kafka: offset fetch %s[%d]: %w", topic, op.Partition, op.Error)
		}
		committed[op.Partition] = op.CommittedOffset
	}

	out := make([]PartitionOffset, 0, len(partitions))
	for _, p := range partitions {
		cur := committed[p]
		if cur < 0 { // -1: no committed offset yet
			cur = 0
		}
		hwm := highWater[p]
		lag := hwm - cur
		if lag < 0 {
			lag = 0
		}
		out = append(out, PartitionOffset{
			Partition:     p,
			CurrentOffset: cur,
			HighWaterMark: hwm,
			Lag:           lag,
		})
	}
	return out, nil
}

// PartitionCount reports how many partitions a topic has; used by the startup
// topic checks.
func (r *OffsetReader) PartitionCount(ctx context.Context, topic string) (int, error) {
	meta, err := r.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return 0, err
	}
	for _, t := range meta.Topics {
		if t.Name == topic {
			if t.Error != nil {
				return 0, t.Error
			}
			return len(t.Partitions), nil
		}
	}
	return 0, fmt.Errorf("kafka: topic %s not found", topic)
}
