package globelogix

import (
	"context"
	"strconv"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Event names emitted by the systems.
const (
	EventScoreSaved             = "scoreSaved"
	EventDailyBonusClaimed      = "dailyBonusClaimed"
	EventLeaderboardReset       = "leaderboardReset"
	EventDistributionExecuted   = "distributionExecuted"
	EventDistributionSkipped    = "distributionSkipped"
	EventTransferFailed         = "transferFailed"
	EventContributionCollected  = "contributionCollected"
	EventContributionFailed     = "contributionFailed"
	EventNotificationSent       = "notificationSent"
	EventNotificationSuppressed = "notificationSuppressed"
)

type PublisherEvent struct {
	Name      string            `json:"name,omitempty"`
	Id        string            `json:"id,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Value     string            `json:"value,omitempty"`

	// The system that generated this event.
	System System `json:"-"`
	// Source ID represents the identifier of the event source, such as a distribution run ID.
	SourceId string `json:"-"`
}

// The Publisher describes a service or similar target implementation that wishes to receive and process
// analytics-style events generated server-side by the systems.
//
// Publisher implementations must safely handle concurrent calls.
//
// Implementations must handle any errors or retries internally, callers will not repeat calls in case
// of errors.
type Publisher interface {
	// Send is called when there are one or more events generated. The userID is empty for events not tied to
	// a player, such as a leaderboard reset.
	Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent)
}

// The EventSender fans events out to every registered Publisher.
type EventSender interface {
	SendPublisherEvents(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent)
}

func newPublisherEvent(system System, name, sourceID string, value string, metadata map[string]string) *PublisherEvent {
	return &PublisherEvent{
		Name:      name,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
		Value:     value,
		System:    system,
		SourceId:  sourceID,
	}
}

func sendEvents(ctx context.Context, logger runtime.Logger, sender EventSender, userID string, events ...*PublisherEvent) {
	if sender == nil || len(events) == 0 {
		return
	}
	sender.SendPublisherEvents(ctx, logger, userID, events)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
