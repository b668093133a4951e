package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/lookout/internal/alert"
	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/delivery/pgstore"
	"github.com/linnemanlabs/lookout/internal/postgres"
	"github.com/linnemanlabs/lookout/internal/priority"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("LOOKOUT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LOOKOUT_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newDelivery(recipient string, created time.Time) *delivery.Delivery {
	at := created.Add(time.Hour)
	pa := priority.PrioritizedAlert{
		Alert: alert.Alert{
			ID:           "alert-" + ulid.Make().String(),
			Type:         alert.TypeRankingChange,
			Severity:     alert.SeverityHigh,
			Timestamp:    created,
			CompetitorID: "acme",
			Metadata: alert.Metadata{
				Impact: 70, Urgency: 60, Confidence: 90,
				Data: alert.Signals{CompetitorRanking: alert.IntPtr(2)},
			},
		},
		PriorityScore:     77.5,
		PriorityLevel:     priority.LevelHigh,
		DeliveryChannel:   []priority.Channel{priority.ChannelDashboard, priority.ChannelSlack},
		ScheduledDelivery: &at,
	}
	return &delivery.Delivery{
		ID:          ulid.Make().String(),
		RecipientID: recipient,
		Status:      delivery.StatusScheduled,
		Alert:       pa,
		CreatedAt:   created,
		ScheduledAt: at,
	}
}

func TestPutAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := newDelivery("test-recipient-"+ulid.Make().String(), time.Now().UTC().Truncate(time.Microsecond))
	if err := s.Put(ctx, d); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if got.Status != delivery.StatusScheduled {
		t.Errorf("Status = %q, want scheduled", got.Status)
	}
	if got.Alert.PriorityScore != 77.5 || got.Alert.PriorityLevel != priority.LevelHigh {
		t.Errorf("Alert = %+v", got.Alert)
	}
	if got.Alert.Metadata.Data.CompetitorRanking == nil || *got.Alert.Metadata.Data.CompetitorRanking != 2 {
		t.Error("signals did not round-trip")
	}
	if !got.ScheduledAt.Equal(d.ScheduledAt) {
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, d.ScheduledAt)
	}
	if !got.DeliveredAt.IsZero() {
		t.Errorf("DeliveredAt = %v, want zero", got.DeliveredAt)
	}
}

func TestPutUpdatesOutcome(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := newDelivery("test-recipient-"+ulid.Make().String(), time.Now().UTC().Truncate(time.Microsecond))
	if err := s.Put(ctx, d); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d.Status = delivery.StatusPartial
	d.DeliveredAt = d.ScheduledAt.Add(time.Second)
	d.Attempts = []delivery.Attempt{
		{Channel: priority.ChannelDashboard, Delivered: true, At: d.DeliveredAt},
		{Channel: priority.ChannelSlack, Error: "webhook returned 500", At: d.DeliveredAt},
	}
	if err := s.Put(ctx, d); err != nil {
		t.Fatalf("Put (update): %v", err)
	}

	got, _, err := s.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != delivery.StatusPartial {
		t.Errorf("Status = %q, want partial", got.Status)
	}
	if len(got.Attempts) != 2 || got.Attempts[1].Error == "" {
		t.Errorf("Attempts = %+v", got.Attempts)
	}
	if !got.DeliveredAt.Equal(d.DeliveredAt) {
		t.Errorf("DeliveredAt = %v, want %v", got.DeliveredAt, d.DeliveredAt)
	}
}

func TestListByRecipient(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	recipient := "test-recipient-" + ulid.Make().String()
	base := time.Now().UTC().Truncate(time.Microsecond)
	var ids []string
	for i := range 3 {
		d := newDelivery(recipient, base.Add(time.Duration(i)*time.Minute))
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, d.ID)
	}

	got, err := s.ListByRecipient(ctx, recipient, 2)
	if err != nil {
		t.Fatalf("ListByRecipient: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing delivery")
	}
}

func TestListByStatus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	recipient := "test-recipient-" + ulid.Make().String()
	base := time.Now().UTC().Truncate(time.Microsecond)
	later := newDelivery(recipient, base.Add(time.Minute))
	earlier := newDelivery(recipient, base)
	done := newDelivery(recipient, base)
	done.Status = delivery.StatusDelivered
	for _, d := range []*delivery.Delivery{later, earlier, done} {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.ListByStatus(ctx, delivery.StatusScheduled, 0)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	pos := make(map[string]int)
	for i, d := range got {
		if d.Status != delivery.StatusScheduled {
			t.Errorf("delivery %s has status %q", d.ID, d.Status)
		}
		pos[d.ID] = i
	}
	ie, okE := pos[earlier.ID]
	il, okL := pos[later.ID]
	if !okE || !okL {
		t.Fatalf("scheduled deliveries missing from result")
	}
	if ie > il {
		t.Errorf("earlier scheduled delivery listed after later one")
	}
	if _, ok := pos[done.ID]; ok {
		t.Error("delivered row returned for status scheduled")
	}
}
