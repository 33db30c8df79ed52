package pipeline

import (
	"context"
	"testing"
	"time"

	"prodenrich/internal/domain"
)

func TestReclaimer_SweepForceCompletesStale(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	notifier := &fakeNotifier{}
	r := NewReclaimer(records, &fakeHolds{}, notifier, time.Hour, time.Hour, 100)

	mustCreateRecord(t, records, 1, 100, domain.StageSet{Image: true})
	if _, err := records.InitCounters(ctx, 1, 100, domain.Counts{Image: 2}); err != nil {
		t.Fatalf("InitCounters: %v", err)
	}

	// Pretend the timeout has long passed.
	future := time.Now().Add(48 * time.Hour)
	r.sweep(ctx, future)

	rec, err := records.Get(ctx, 1, 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusSuccess {
		t.Fatalf("want reclaimed to success got %s", rec.Status)
	}
	if notifier.count() != 1 {
		t.Fatalf("want 1 notify got %d", notifier.count())
	}

	// A second sweep finds nothing in processing and must not re-notify.
	r.sweep(ctx, future)
	if notifier.count() != 1 {
		t.Fatalf("second sweep re-notified")
	}

	// A late worker result after the reclaim clamps without a second
	// transition either.
	completed, err := records.DecrementAndComplete(ctx, 1, 100, domain.CounterImage, 2)
	if err != nil {
		t.Fatalf("late decrement: %v", err)
	}
	if completed {
		t.Fatalf("late decrement re-fired the transition")
	}
}

func TestReclaimer_SweepSkipsFreshRecords(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	notifier := &fakeNotifier{}
	r := NewReclaimer(records, &fakeHolds{}, notifier, time.Hour, time.Hour, 100)

	mustCreateRecord(t, records, 1, 101, domain.StageSet{Image: true})
	if _, err := records.InitCounters(ctx, 1, 101, domain.Counts{Image: 1}); err != nil {
		t.Fatalf("InitCounters: %v", err)
	}

	// Now minus one hour has not yet reached the record's update time.
	r.sweep(ctx, time.Now())

	rec, err := records.Get(ctx, 1, 101)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusProcessing {
		t.Fatalf("fresh record reclaimed: %s", rec.Status)
	}
	if notifier.count() != 0 {
		t.Fatalf("fresh sweep notified")
	}
}

func TestReclaimer_SweepIgnoresTerminalRecords(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	notifier := &fakeNotifier{}
	r := NewReclaimer(records, &fakeHolds{}, notifier, time.Hour, time.Hour, 100)

	mustCreateRecord(t, records, 1, 102, domain.StageSet{Image: true})
	if err := records.SetStatus(ctx, 1, 102, domain.StatusFail); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	r.sweep(ctx, time.Now().Add(48*time.Hour))

	rec, err := records.Get(ctx, 1, 102)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusFail {
		t.Fatalf("terminal record mutated by sweep: %s", rec.Status)
	}
	if notifier.count() != 0 {
		t.Fatalf("terminal record notified")
	}
}
