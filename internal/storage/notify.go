package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// ArticleSaved is published once per persisted article.
type ArticleSaved struct {
	RunID       string    `json:"run_id"`
	Seq         int       `json:"seq"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	PublishTime string    `json:"publish_time,omitempty"`
	ContentHash string    `json:"content_hash"`
	SavedAt     time.Time `json:"saved_at"`
}

// BatchCompleted is published after the last outcome has been collected.
type BatchCompleted struct {
	RunID         string    `json:"run_id"`
	Submitted     int       `json:"submitted"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	PersistFailed int       `json:"persist_failed"`
	CompletedAt   time.Time `json:"completed_at"`
}

// NotifySink announces saved articles on a topic. It stores nothing itself
// and is meant to sit behind the durable sinks in a Fanout.
type NotifySink struct {
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	topic     string
	runID     string
}

// NewNotifySink wires a publisher for runID.
func NewNotifySink(publisher crawler.Publisher, hasher crawler.Hasher, clock crawler.Clock, topic, runID string) (*NotifySink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if hasher == nil || clock == nil {
		return nil, fmt.Errorf("hasher and clock are required")
	}
	return &NotifySink{publisher: publisher, hasher: hasher, clock: clock, topic: topic, runID: runID}, nil
}

// Save implements crawler.RecordSink.
func (n *NotifySink) Save(ctx context.Context, seq int, record crawler.ArticleRecord) error {
	digest, err := n.hasher.Hash([]byte(record.Content))
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	event := ArticleSaved{
		RunID:       n.runID,
		Seq:         seq,
		URL:         record.URL,
		Title:       record.Title,
		PublishTime: record.PublishTime,
		ContentHash: digest,
		SavedAt:     n.clock.Now(),
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish article %d: %w", seq, err)
	}
	return nil
}

// Finish implements crawler.BatchFinisher.
func (n *NotifySink) Finish(ctx context.Context, summary crawler.Summary) error {
	event := BatchCompleted{
		RunID:         n.runID,
		Submitted:     summary.Submitted,
		Succeeded:     summary.Succeeded,
		Failed:        summary.Failed,
		PersistFailed: summary.PersistFailed,
		CompletedAt:   n.clock.Now(),
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish batch summary: %w", err)
	}
	return nil
}
