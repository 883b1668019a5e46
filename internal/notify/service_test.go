package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticResolver struct {
	ids []string
	err error
}

func (r staticResolver) ResolveByRoles(_ context.Context, roles []string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return r.ids, nil
}

type recordingSender struct {
	mu      sync.Mutex
	sends   []string
	outcome map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{outcome: make(map[string]error)}
}

func (s *recordingSender) Send(_ context.Context, registration PushRegistration, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, registration.Endpoint)
	return s.outcome[registration.Endpoint]
}

func (s *recordingSender) sendCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sent := range s.sends {
		if sent == endpoint {
			count++
		}
	}
	return count
}

type notifyFixture struct {
	service *Service
	db      *gorm.DB
	sender  *recordingSender
}

func newNotifyFixture(t *testing.T, recipients []string, mutate func(*ServiceConfig)) *notifyFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &PushRegistration{}, &Preference{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	fixture := &notifyFixture{db: db, sender: newRecordingSender()}
	cfg := ServiceConfig{
		Database: db,
		Resolver: staticResolver{ids: recipients},
		Sender:   fixture.sender,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	fixture.service = service
	return fixture
}

func (f *notifyFixture) register(t *testing.T, recipientID, endpoint string) {
	t.Helper()
	err := f.service.Subscribe(context.Background(), PushRegistration{
		Endpoint:    endpoint,
		RecipientID: recipientID,
		P256dh:      "p256dh-key",
		Auth:        "auth-secret",
	})
	if err != nil {
		t.Fatalf("failed to register endpoint %s: %v", endpoint, err)
	}
}

func (f *notifyFixture) registrationCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&PushRegistration{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count registrations: %v", err)
	}
	return count
}

func testEvent() Event {
	return Event{
		SourceID:  "req-1",
		Label:     "New inbound request",
		EventType: EventTypeInboundRequest,
		Roles:     []string{"admin", "editor"},
		URL:       "/requests/req-1",
	}
}

func TestFanOutCreatesOneRecordPerEligibleOperator(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1", "op-2", "op-3"}, nil)

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	if result.EligibleOperators != 3 || result.RecordsCreated != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}

	for _, recipientID := range []string{"op-1", "op-2", "op-3"} {
		records, total, err := fixture.service.ListForRecipient(context.Background(), recipientID, 1, 10)
		if err != nil {
			t.Fatalf("failed to list records for %s: %v", recipientID, err)
		}
		if total != 1 || len(records) != 1 {
			t.Fatalf("expected one record for %s, got %d", recipientID, total)
		}
		if records[0].IsRead {
			t.Fatal("new records must be unread")
		}
		if records[0].SourceID != "req-1" || records[0].EventType != EventTypeInboundRequest {
			t.Fatalf("unexpected record: %+v", records[0])
		}
	}
}

func TestFanOutWithNoEligibleOperatorsIsSoft(t *testing.T) {
	fixture := newNotifyFixture(t, nil, nil)

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("zero eligible operators must not be an error: %v", err)
	}
	if result.RecordsCreated != 0 {
		t.Fatalf("expected zero records, got %d", result.RecordsCreated)
	}

	var count int64
	if err := fixture.db.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero records in store, got %d", count)
	}
}

func TestFanOutGoneEndpointIsPrunedOnceWithoutRetry(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)
	fixture.register(t, "op-1", "https://push.example.com/gone")
	fixture.sender.outcome["https://push.example.com/gone"] = ErrEndpointGone

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	if result.PrunedEndpoints != 1 {
		t.Fatalf("expected one pruned endpoint, got %d", result.PrunedEndpoints)
	}
	if fixture.sender.sendCount("https://push.example.com/gone") != 1 {
		t.Fatal("gone endpoint must not be retried within the pass")
	}
	if fixture.registrationCount(t) != 0 {
		t.Fatal("gone registration must be deleted")
	}
	// Record creation is unaffected by push pruning.
	if result.RecordsCreated != 1 {
		t.Fatalf("expected record despite push prune, got %d", result.RecordsCreated)
	}
}

func TestFanOutOtherSendFailureLeavesRegistrationIntact(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)
	fixture.register(t, "op-1", "https://push.example.com/flaky")
	fixture.sender.outcome["https://push.example.com/flaky"] = errors.New("503 upstream")

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("push failure must not fail fan-out: %v", err)
	}
	if result.FailedSends != 1 {
		t.Fatalf("expected one counted failure, got %d", result.FailedSends)
	}
	if fixture.registrationCount(t) != 1 {
		t.Fatal("non-gone failure must leave the registration intact")
	}
}

func TestFanOutSkipsRecipientsWithPushDisabled(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1", "op-2"}, nil)
	fixture.register(t, "op-1", "https://push.example.com/op-1")
	fixture.register(t, "op-2", "https://push.example.com/op-2")
	if err := fixture.service.SetPreference(context.Background(), "op-1", false); err != nil {
		t.Fatalf("failed to set preference: %v", err)
	}

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	if fixture.sender.sendCount("https://push.example.com/op-1") != 0 {
		t.Fatal("disabled recipient must not receive push")
	}
	if fixture.sender.sendCount("https://push.example.com/op-2") != 1 {
		t.Fatal("enabled recipient must receive push")
	}
	// Preference gates push only, not record creation.
	if result.RecordsCreated != 2 {
		t.Fatalf("expected records for both operators, got %d", result.RecordsCreated)
	}
}

func TestFanOutWithoutSenderStillCreatesRecords(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, func(cfg *ServiceConfig) {
		cfg.Sender = nil
	})
	fixture.register(t, "op-1", "https://push.example.com/op-1")

	result, err := fixture.service.FanOut(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	if result.RecordsCreated != 1 || result.PushAttempted != 0 {
		t.Fatalf("expected records without push, got %+v", result)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)
	ctx := context.Background()

	if _, err := fixture.service.FanOut(ctx, testEvent()); err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	records, _, err := fixture.service.ListForRecipient(ctx, "op-1", 1, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("failed to load record: %v", err)
	}

	if err := fixture.service.MarkRead(ctx, "op-1", records[0].ID); err != nil {
		t.Fatalf("first mark read failed: %v", err)
	}
	if err := fixture.service.MarkRead(ctx, "op-1", records[0].ID); err != nil {
		t.Fatalf("second mark read must be a no-op, got %v", err)
	}

	count, err := fixture.service.UnreadCount(ctx, "op-1")
	if err != nil {
		t.Fatalf("failed to count unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread count must not go below zero, got %d", count)
	}
}

func TestMarkReadUnknownRecordFails(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)

	err := fixture.service.MarkRead(context.Background(), "op-1", "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestMarkReadScopedToRecipient(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)
	ctx := context.Background()

	if _, err := fixture.service.FanOut(ctx, testEvent()); err != nil {
		t.Fatalf("unexpected fan-out failure: %v", err)
	}
	records, _, err := fixture.service.ListForRecipient(ctx, "op-1", 1, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("failed to load record: %v", err)
	}

	if err := fixture.service.MarkRead(ctx, "op-2", records[0].ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("another recipient must not mark the record, got %v", err)
	}
}

func TestSubscribeUpsertsByEndpoint(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)
	ctx := context.Background()

	fixture.register(t, "op-1", "https://push.example.com/device")
	if err := fixture.service.Subscribe(ctx, PushRegistration{
		Endpoint:    "https://push.example.com/device",
		RecipientID: "op-2",
		P256dh:      "rotated",
		Auth:        "rotated",
	}); err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}

	if fixture.registrationCount(t) != 1 {
		t.Fatal("subscribe must upsert by endpoint, not duplicate")
	}
	var registration PushRegistration
	if err := fixture.db.Take(&registration).Error; err != nil {
		t.Fatalf("failed to load registration: %v", err)
	}
	if registration.RecipientID != "op-2" || registration.P256dh != "rotated" {
		t.Fatalf("upsert did not refresh fields: %+v", registration)
	}
}

func TestUnsubscribeRemovesRegistration(t *testing.T) {
	fixture := newNotifyFixture(t, []string{"op-1"}, nil)

	fixture.register(t, "op-1", "https://push.example.com/device")
	if err := fixture.service.Unsubscribe(context.Background(), "https://push.example.com/device"); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if fixture.registrationCount(t) != 0 {
		t.Fatal("registration must be removed on revoke")
	}
}
