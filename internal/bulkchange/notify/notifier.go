package notify

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
)

type EventType string

const (
	IssueUpdated    EventType = "issue_updated"
	IssueMoved      EventType = "issue_moved"
	IssueDeleted    EventType = "issue_deleted"
	IssueTransition EventType = "issue_transitioned"
)

type Event struct {
	Type     EventType
	IssueKey string
	User     string
	Detail   string
}

// Notifier sends notifications about issues changed by bulk operations.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LoggingNotifier writes every notification to the log.
type LoggingNotifier struct{}

func (LoggingNotifier) Notify(_ context.Context, event Event) error {
	log.WithFields(log.Fields{
		"type":  event.Type,
		"issue": event.IssueKey,
		"user":  event.User,
	}).Info(event.Detail)
	return nil
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) error { return nil }

// RetryingNotifier retries failed notifications before giving up.
type RetryingNotifier struct {
	delegate Notifier
	attempts uint
	delay    time.Duration
}

func NewRetryingNotifier(delegate Notifier, attempts uint, delay time.Duration) *RetryingNotifier {
	if attempts == 0 {
		attempts = 1
	}
	return &RetryingNotifier{
		delegate: delegate,
		attempts: attempts,
		delay:    delay,
	}
}

func (n *RetryingNotifier) Notify(ctx context.Context, event Event) error {
	return retry.Do(
		func() error {
			return n.delegate.Notify(ctx, event)
		},
		retry.Context(ctx),
		retry.Attempts(n.attempts),
		retry.Delay(n.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.WithField("issue", event.IssueKey).Warnf("notification attempt %d failed: %v", attempt+1, err)
		}),
	)
}
