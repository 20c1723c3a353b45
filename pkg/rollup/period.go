// Package rollup maintains the per-period, per-device power aggregates.
//
// Each device's raw history is denormalized into three rolling windows.
// Every window keeps its own history sub-collection plus an aggregate
// document whose total_power_consumption is always recomputed from
// scratch over the records currently in the window, never maintained
// incrementally. That keeps the total drift-free across concurrent
// fan-out writes and retention deletes.
package rollup

import "time"

// Period is one of the rolling retention windows. Its string value is
// also the name of the top-level collection holding that window's data.
type Period string

const (
	LastWeek  Period = "last_week"
	LastMonth Period = "last_month"
	LastYear  Period = "last_year"
)

// Periods returns all rollup windows in a stable order.
func Periods() []Period {
	return []Period{LastWeek, LastMonth, LastYear}
}

// Window returns the period's retention span.
func (p Period) Window() time.Duration {
	switch p {
	case LastWeek:
		return 7 * 24 * time.Hour
	case LastMonth:
		return 30 * 24 * time.Hour
	case LastYear:
		return 365 * 24 * time.Hour
	}
	return 0
}

// Cutoff returns the eviction boundary for the period relative to now.
// Records whose end_time is strictly before the cutoff are expired.
func (p Period) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Window())
}

// AggregatePath returns the path of the per-device aggregate document.
func (p Period) AggregatePath(deviceID string) string {
	return string(p) + "/" + deviceID
}

// HistoryPath returns the path of the per-device history collection.
func (p Period) HistoryPath(deviceID string) string {
	return string(p) + "/" + deviceID + "/history"
}

// Record schema fields consumed by the rollup pipeline.
const (
	// FieldPowerConsumption is the summed numeric field. Optional;
	// missing or null counts as zero.
	FieldPowerConsumption = "power_consumption"

	// FieldEndTime is the record's ISO-8601 end timestamp. Optional;
	// records without one are never evicted.
	FieldEndTime = "end_time"

	// FieldTotalPowerConsumption is the recomputed aggregate value on
	// the per-device aggregate document.
	FieldTotalPowerConsumption = "total_power_consumption"
)

// RawHistoryCollection is the append-only source collection that fan-out
// copies from.
const RawHistoryCollection = "device_history"

// RawHistoryPath returns the raw history collection path for a device.
func RawHistoryPath(deviceID string) string {
	return RawHistoryCollection + "/" + deviceID + "/history"
}
