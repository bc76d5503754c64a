package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerMessagesReceived counts fetched messages before processing.
	ConsumerMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_received_total",
			Help: "Total number of Kafka messages fetched from the broker",
		},
		[]string{"topic", "consumer_group"},
	)

	// ConsumerMessagesProcessed counts successfully handled messages.
	ConsumerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_processed_total",
			Help: "Total number of successfully processed Kafka messages",
		},
		[]string{"topic", "consumer_group"},
	)

	// ConsumerMessagesFailed counts messages that exhausted handler retries.
	ConsumerMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_failed_total",
			Help: "Total number of Kafka messages that failed all retries",
		},
		[]string{"topic", "consumer_group"},
	)

	// ConsumerMessagesDuplicate counts messages skipped by the idempotency guard.
	ConsumerMessagesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_duplicate_total",
			Help: "Total number of duplicate Kafka messages skipped",
		},
		[]string{"consumer"},
	)

	// ConsumerFetchErrors counts failed fetches from the broker.
	ConsumerFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_fetch_errors_total",
			Help: "Total number of failed Kafka fetch attempts",
		},
		[]string{"topic", "consumer_group"},
	)

	// ConsumerProcessingDuration observes handler execution time.
	ConsumerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Duration of Kafka message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "consumer_group"},
	)

	// ConsumerDLQPublished counts messages routed to a dead-letter topic.
	ConsumerDLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_dlq_published_total",
			Help: "Total number of messages published to dead-letter queue",
		},
		[]string{"topic", "consumer_group"},
	)

	// ProducerMessagesPublished counts published messages.
	ProducerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_published_total",
			Help: "Total number of Kafka messages published",
		},
		[]string{"topic"},
	)

	// ProducerPublishErrors counts publish failures.
	ProducerPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_publish_errors_total",
			Help: "Total number of Kafka publish errors",
		},
		[]string{"topic"},
	)
)
