package persistence

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"signal-trader/internal/events"
	"signal-trader/pkg/db"
)

// Journal records every bus event in the events table.
type Journal struct {
	bus    *events.Bus
	writer *BatchWriter
	log    zerolog.Logger
}

// NewJournal wires a journal to bus; Run starts consuming.
func NewJournal(bus *events.Bus, writer *BatchWriter, logger zerolog.Logger) *Journal {
	return &Journal{
		bus:    bus,
		writer: writer,
		log:    logger.With().Str("component", "journal").Logger(),
	}
}

// Run consumes the bus until ctx is done, then drains what is buffered and
// flushes the writer.
func (j *Journal) Run(ctx context.Context) {
	ch, unsub := j.bus.SubscribeAll(512)
	defer unsub()
	defer func() {
		if err := j.writer.Flush(); err != nil {
			j.log.Warn().Err(err).Msg("flush on shutdown")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			j.drain(ch)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			j.Record(msg)
		}
	}
}

// drain records whatever is already buffered without waiting for more.
func (j *Journal) drain(ch <-chan events.Message) {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			j.Record(msg)
		default:
			return
		}
	}
}

// Record buffers one message.
func (j *Journal) Record(msg events.Message) {
	rec, err := Record(msg)
	if err != nil {
		j.log.Warn().Err(err).Str("event", string(msg.Event)).Msg("skip unencodable event")
		return
	}
	j.writer.WriteQuery(db.InsertEventSQL, db.EventArgs(rec)...)
}

// Record converts a bus message into its journal row.
func Record(msg events.Message) (db.EventRecord, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return db.EventRecord{}, err
	}
	rec := db.EventRecord{
		ID:        msg.ID,
		Event:     string(msg.Event),
		Payload:   payload,
		CreatedAt: msg.At,
	}
	if s, ok := msg.Payload.(events.Scoped); ok {
		rec.CampaignID = s.Campaign()
	}
	if in, ok := msg.Payload.(events.Instrumented); ok {
		rec.InstID = in.Instrument()
	}
	return rec, nil
}
