package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-trader/internal/events"
	"signal-trader/pkg/db"
)

func newJournalDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestRecordExtractsScope(t *testing.T) {
	msg := events.Message{
		ID:      "m1",
		Event:   events.EventOrderResult,
		Payload: events.OrderPayload{CampaignID: "c1", InstID: "ETH-USDT-SWAP", Action: "open", OK: true},
		At:      time.Unix(100, 0).UTC(),
	}
	rec, err := Record(msg)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.CampaignID != "c1" || rec.InstID != "ETH-USDT-SWAP" || rec.Event != "order.result" {
		t.Fatalf("record=%+v", rec)
	}

	rec, _ = Record(events.Message{ID: "m2", Event: events.EventPositionsRefreshed, Payload: events.PositionsPayload{CampaignID: "c2"}})
	if rec.CampaignID != "c2" || rec.InstID != "" {
		t.Fatalf("record=%+v, expected campaign only", rec)
	}
}

func TestJournalPersistsBusEvents(t *testing.T) {
	database := newJournalDB(t)
	writer := NewBatchWriter(database.DB, 10, 10*time.Millisecond, zerolog.Nop())
	defer writer.Close()

	bus := events.NewBus()
	j := NewJournal(bus, writer, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	// wait for the subscription to register
	deadline := time.Now().Add(2 * time.Second)
	q := database.Queries()
	for {
		bus.Publish(events.EventSignalDetected, events.SignalPayload{CampaignID: "c1", InstID: "BTC-USDT-SWAP", Type: "bullish"})
		time.Sleep(20 * time.Millisecond)
		n, err := q.CountEvents(context.Background(), "c1")
		if err != nil {
			t.Fatalf("CountEvents: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event journaled")
		}
	}
	cancel()
	<-done

	got, err := q.ListEvents(context.Background(), db.EventFilter{CampaignID: "c1", Limit: 1})
	if err != nil || len(got) != 1 {
		t.Fatalf("ListEvents=%v err=%v", got, err)
	}
	if got[0].Event != "signal.detected" || got[0].InstID != "BTC-USDT-SWAP" {
		t.Fatalf("event=%+v", got[0])
	}
}

func TestBatchWriterFlushOnSize(t *testing.T) {
	database := newJournalDB(t)
	writer := NewBatchWriter(database.DB, 2, time.Hour, zerolog.Nop())
	defer writer.Close()

	for i, id := range []string{"a", "b"} {
		rec := db.EventRecord{ID: id, Event: "x", Payload: []byte(`{}`), CreatedAt: time.Unix(int64(i), 0)}
		writer.WriteQuery(db.InsertEventSQL, db.EventArgs(rec)...)
	}
	if p := writer.Pending(); p != 0 {
		t.Fatalf("pending=%d, expected 0 after size flush", p)
	}
	m := writer.Metrics()
	if m.TotalWrites != 2 || m.TotalBatches != 1 {
		t.Fatalf("metrics=%+v", m)
	}

	writer.WriteQuery("INSERT INTO missing_table VALUES (1)")
	if err := writer.Flush(); err == nil {
		t.Fatalf("expected error for bad statement")
	}
	if m := writer.Metrics(); m.TotalErrors != 1 || m.Dropped != 1 {
		t.Fatalf("metrics=%+v, expected one error and one dropped op", m)
	}
}
