package globelogix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testNow is a Wednesday, so the weekly period is stable for the whole test.
var testNow = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestLogger(t *testing.T) runtime.Logger {
	return NewZapLogger(zaptest.NewLogger(t))
}

func newTestStore(t *testing.T) (*RedisScoreStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisScoreStoreFromClient(client, "test:")
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, mr
}

func newTestLeaderboards(t *testing.T, store ScoreStore, locks *KeyedMutex) *RedisLeaderboardsSystem {
	leaderboards := NewRedisLeaderboardsSystem(&LeaderboardsConfig{}, store, locks)
	leaderboards.now = fixedClock(testNow)
	return leaderboards
}

func newTestProgress(t *testing.T, store ScoreStore, locks *KeyedMutex, leaderboards LeaderboardsSystem) *RedisProgressSystem {
	progress := NewRedisProgressSystem(&ProgressConfig{}, store, locks, leaderboards, 1)
	progress.now = fixedClock(testNow)
	return progress
}

// seedPlayer saves a single completed level so the player ends up with the given total.
func seedPlayer(t *testing.T, progress *RedisProgressSystem, playerID string, total int64) {
	_, err := progress.SaveLevelProgress(context.Background(), newTestLogger(t), &SaveProgressRequest{
		PlayerID:   playerID,
		Name:       "name-" + playerID,
		ExternalID: "user-" + playerID,
		Level:      1,
		Score:      total,
		Completed:  true,
		Stars:      3,
	})
	require.NoError(t, err)
}

// fakeFundsProvider records every call, rejects transfers to the addresses in failFor and errors for the
// addresses in errFor after the transfer went through.
type fakeFundsProvider struct {
	sync.Mutex

	balance     decimal.Decimal
	balanceErr  error
	failFor     map[string]bool
	errFor      map[string]error
	transfers   []*Transfer
	pulls       []decimal.Decimal
	permissions []string
	pullErr     error
}

func newFakeFundsProvider() *fakeFundsProvider {
	return &fakeFundsProvider{
		balance: decimal.Zero,
		failFor: make(map[string]bool),
		errFor:  make(map[string]error),
	}
}

func (f *fakeFundsProvider) Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferResult, error) {
	f.Lock()
	defer f.Unlock()
	if f.failFor[to] {
		return &TransferResult{Success: false, Error: "insufficient gas"}, nil
	}
	f.transfers = append(f.transfers, &Transfer{To: to, Amount: amount})
	if err := f.errFor[to]; err != nil {
		return nil, err
	}
	return &TransferResult{Success: true, TransactionRef: fmt.Sprintf("tx-%d", len(f.transfers))}, nil
}

func (f *fakeFundsProvider) PullAuthorizedFunds(ctx context.Context, permission json.RawMessage, amount decimal.Decimal) (*TransferResult, error) {
	f.Lock()
	defer f.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	for address := range f.failFor {
		if strings.Contains(string(permission), address) {
			return nil, errors.New("permission revoked")
		}
	}
	f.pulls = append(f.pulls, amount)
	f.permissions = append(f.permissions, string(permission))
	f.balance = f.balance.Add(amount)
	return &TransferResult{Success: true, TransactionRef: fmt.Sprintf("pull-%d", len(f.pulls))}, nil
}

func (f *fakeFundsProvider) Balance(ctx context.Context) (decimal.Decimal, error) {
	f.Lock()
	defer f.Unlock()
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeFundsProvider) transferCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.transfers)
}

func (f *fakeFundsProvider) pullCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.pulls)
}

// fakeBatchProvider adds batch transfers to fakeFundsProvider. batchErr fails before anything is sent,
// sentErr is returned after the batch went through.
type fakeBatchProvider struct {
	*fakeFundsProvider

	batches    [][]*Transfer
	batchErr   error
	sentErr    error
	nilResult  bool
	rejectWith string
}

func (f *fakeBatchProvider) BatchTransfer(ctx context.Context, transfers []*Transfer) (*TransferResult, error) {
	f.Lock()
	defer f.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.nilResult {
		return nil, nil
	}
	if f.rejectWith != "" {
		return &TransferResult{Success: false, Error: f.rejectWith}, nil
	}
	f.batches = append(f.batches, transfers)
	if f.sentErr != nil {
		return nil, f.sentErr
	}
	return &TransferResult{Success: true, TransactionRef: fmt.Sprintf("batch-%d", len(f.batches))}, nil
}

// recordingPublisher keeps every event it receives.
type recordingPublisher struct {
	sync.Mutex
	events []*PublisherEvent
}

func (p *recordingPublisher) Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	p.Lock()
	defer p.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) names() []string {
	p.Lock()
	defer p.Unlock()
	names := make([]string, 0, len(p.events))
	for _, event := range p.events {
		names = append(names, event.Name)
	}
	return names
}

// testEventSender is the smallest Globelogix a system needs to publish events.
type testEventSender struct {
	Globelogix
	publisher *recordingPublisher
}

func newTestEventSender() *testEventSender {
	return &testEventSender{publisher: &recordingPublisher{}}
}

func (s *testEventSender) SendPublisherEvents(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	s.publisher.Send(ctx, logger, userID, events)
}

// recordingNotificationProvider captures delivered notifications.
type recordingNotificationProvider struct {
	sync.Mutex
	sent map[string][]string
	err  error
}

func newRecordingNotificationProvider() *recordingNotificationProvider {
	return &recordingNotificationProvider{sent: make(map[string][]string)}
}

func (p *recordingNotificationProvider) Send(ctx context.Context, recipientID, title, body string) (bool, error) {
	p.Lock()
	defer p.Unlock()
	if p.err != nil {
		return false, p.err
	}
	p.sent[recipientID] = append(p.sent[recipientID], title)
	return true, nil
}

func (p *recordingNotificationProvider) count(recipientID string) int {
	p.Lock()
	defer p.Unlock()
	return len(p.sent[recipientID])
}

func (p *recordingNotificationProvider) total() int {
	p.Lock()
	defer p.Unlock()
	total := 0
	for _, titles := range p.sent {
		total += len(titles)
	}
	return total
}

func (f *fakeBatchProvider) batchCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.batches)
}
