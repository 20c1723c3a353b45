package fanout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/store"
	"github.com/homewatt/homewatt/pkg/store/memory"
)

// flakyDocs fails Set for any path containing match, standing in for a
// backend write failure on one copy target.
type flakyDocs struct {
	store.DocumentStore
	match string
}

func (f *flakyDocs) Set(ctx context.Context, path string, fields map[string]any) error {
	if strings.Contains(path, f.match) {
		return errors.New("backend write failed")
	}
	return f.DocumentStore.Set(ctx, path, fields)
}

func newCopier(t *testing.T) (*Copier, *memory.DocumentStore) {
	t.Helper()
	docs := memory.NewDocumentStore()
	engine := rollup.NewEngine(docs, zerolog.Nop())
	return New(docs, engine, zerolog.Nop()), docs
}

func writeRaw(t *testing.T, docs *memory.DocumentStore, deviceID, startTime string, fields map[string]any) {
	t.Helper()
	path := rollup.RawHistoryPath(deviceID) + "/" + startTime
	require.NoError(t, docs.Set(context.Background(), path, fields))
}

func TestHandleWrite_CopiesIntoAllPeriods(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	fields := map[string]any{
		"power_consumption": 2.5,
		"end_time":          "2024-06-01T10:00:00Z",
	}
	writeRaw(t, docs, "devD", "2024-06-01T09:00:00Z", fields)

	copier.HandleWrite(ctx, Event{
		DeviceID:  "devD",
		StartTime: "2024-06-01T09:00:00Z",
		After:     fields,
	})

	for _, period := range rollup.Periods() {
		snap, err := docs.Get(ctx, period.HistoryPath("devD")+"/2024-06-01T09:00:00Z")
		require.NoError(t, err, "period %s", period)
		require.Equal(t, 2.5, snap.Fields["power_consumption"])
		require.Equal(t, "2024-06-01T10:00:00Z", snap.Fields["end_time"])
	}
}

func TestHandleWrite_RecomputesAggregates(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	fields := map[string]any{"power_consumption": 2.5}
	writeRaw(t, docs, "devD", "t1", fields)

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: fields})

	for _, period := range rollup.Periods() {
		snap, err := docs.Get(ctx, period.AggregatePath("devD"))
		require.NoError(t, err, "period %s", period)
		require.Equal(t, 2.5, snap.Fields[rollup.FieldTotalPowerConsumption])
	}
}

func TestHandleWrite_CopiesSubCollections(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	fields := map[string]any{"power_consumption": 1.0}
	writeRaw(t, docs, "devD", "t1", fields)

	rawPath := rollup.RawHistoryPath("devD") + "/t1"
	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, docs.Set(ctx, rawPath+"/phases/"+id, map[string]any{
			"phase": float64(i),
		}))
	}

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: fields})

	for _, period := range rollup.Periods() {
		subs, err := docs.ListDocuments(ctx, period.HistoryPath("devD")+"/t1/phases", store.ListOptions{})
		require.NoError(t, err, "period %s", period)
		require.Len(t, subs, 3)
	}
}

func TestHandleWrite_CopiesNestedSubCollections(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	fields := map[string]any{"power_consumption": 1.0}
	writeRaw(t, docs, "devD", "t1", fields)

	rawPath := rollup.RawHistoryPath("devD") + "/t1"
	require.NoError(t, docs.Set(ctx, rawPath+"/phases/p1", map[string]any{"phase": 1.0}))
	require.NoError(t, docs.Set(ctx, rawPath+"/phases/p1/samples/s1", map[string]any{"v": 0.5}))

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: fields})

	snap, err := docs.Get(ctx, "last_week/devD/history/t1/phases/p1/samples/s1")
	require.NoError(t, err)
	require.Equal(t, 0.5, snap.Fields["v"])
}

func TestHandleWrite_DeleteEventIsNoop(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: nil})

	for _, period := range rollup.Periods() {
		_, err := docs.Get(ctx, period.HistoryPath("devD")+"/t1")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = docs.Get(ctx, period.AggregatePath("devD"))
		require.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestHandleWrite_AggregateAccumulatesAcrossWrites(t *testing.T) {
	copier, docs := newCopier(t)
	ctx := context.Background()

	first := map[string]any{"power_consumption": 1.25}
	writeRaw(t, docs, "devD", "t1", first)
	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: first})

	second := map[string]any{"power_consumption": 2.75}
	writeRaw(t, docs, "devD", "t2", second)
	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t2", After: second})

	snap, err := docs.Get(ctx, "last_week/devD")
	require.NoError(t, err)
	require.Equal(t, 4.0, snap.Fields[rollup.FieldTotalPowerConsumption])
}

func TestHandleWrite_FailingPeriodDoesNotAbortOthers(t *testing.T) {
	docs := memory.NewDocumentStore()
	flaky := &flakyDocs{DocumentStore: docs, match: "last_month/"}
	engine := rollup.NewEngine(flaky, zerolog.Nop())
	copier := New(flaky, engine, zerolog.Nop())
	ctx := context.Background()

	fields := map[string]any{"power_consumption": 2.5}
	writeRaw(t, docs, "devD", "t1", fields)

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: fields})

	// The failing period got nothing.
	_, err := docs.Get(ctx, "last_month/devD/history/t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The remaining periods are fully copied and recomputed.
	for _, period := range []rollup.Period{rollup.LastWeek, rollup.LastYear} {
		snap, err := docs.Get(ctx, period.HistoryPath("devD")+"/t1")
		require.NoError(t, err, "period %s", period)
		require.Equal(t, 2.5, snap.Fields["power_consumption"])

		agg, err := docs.Get(ctx, period.AggregatePath("devD"))
		require.NoError(t, err, "period %s", period)
		require.Equal(t, 2.5, agg.Fields[rollup.FieldTotalPowerConsumption])
	}

	// Recompute still ran for the failing period over its empty window.
	agg, err := docs.Get(ctx, rollup.LastMonth.AggregatePath("devD"))
	require.NoError(t, err)
	require.Equal(t, 0.0, agg.Fields[rollup.FieldTotalPowerConsumption])
}

func TestHandleWrite_FailingSubDocumentDoesNotAbortSiblings(t *testing.T) {
	docs := memory.NewDocumentStore()
	flaky := &flakyDocs{DocumentStore: docs, match: "/phases/p2"}
	engine := rollup.NewEngine(flaky, zerolog.Nop())
	copier := New(flaky, engine, zerolog.Nop())
	ctx := context.Background()

	fields := map[string]any{"power_consumption": 1.0}
	writeRaw(t, docs, "devD", "t1", fields)

	rawPath := rollup.RawHistoryPath("devD") + "/t1"
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, docs.Set(ctx, rawPath+"/phases/"+id, map[string]any{"id": id}))
	}

	copier.HandleWrite(ctx, Event{DeviceID: "devD", StartTime: "t1", After: fields})

	for _, period := range rollup.Periods() {
		base := period.HistoryPath("devD") + "/t1/phases/"

		for _, id := range []string{"p1", "p3"} {
			snap, err := docs.Get(ctx, base+id)
			require.NoError(t, err, "period %s sub-record %s", period, id)
			require.Equal(t, id, snap.Fields["id"])
		}
		_, err := docs.Get(ctx, base+"p2")
		require.ErrorIs(t, err, store.ErrNotFound, "period %s", period)

		// The parent record and the aggregate are unaffected.
		agg, err := docs.Get(ctx, period.AggregatePath("devD"))
		require.NoError(t, err, "period %s", period)
		require.Equal(t, 1.0, agg.Fields[rollup.FieldTotalPowerConsumption])
	}
}
