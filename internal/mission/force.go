package mission

import "time"

// ForceID uniquely identifies a force (team/side) within one mission.
type ForceID string

// PoolInfinite is the sentinel for an unbounded resource pool. Infinite
// pools afford any cost and are never decremented.
const PoolInfinite = -1

// OutputEntry is one line in a force's output log.
type OutputEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Force is a team with its own resource pool, output log, and visibility
// scope over the mission graph.
type Force struct {
	ID     ForceID
	Name   string
	Pool   int
	Output []OutputEntry
}

// Infinite reports whether the pool is unbounded.
func (f *Force) Infinite() bool { return f.Pool == PoolInfinite }

// CanAfford reports whether the pool covers cost.
func (f *Force) CanAfford(cost int) bool {
	return f.Infinite() || f.Pool >= cost
}

// Spend deducts cost from the pool. The caller must have checked CanAfford;
// Spend never drives the pool negative.
func (f *Force) Spend(cost int) {
	if f.Infinite() || cost <= 0 {
		return
	}
	if cost > f.Pool {
		cost = f.Pool
	}
	f.Pool -= cost
}

// Credit adds amount to the pool. Negative amounts deduct, clamped at zero.
func (f *Force) Credit(amount int) {
	if f.Infinite() {
		return
	}
	f.Pool += amount
	if f.Pool < 0 {
		f.Pool = 0
	}
}

// AppendOutput records one output line.
func (f *Force) AppendOutput(text string, at time.Time) OutputEntry {
	entry := OutputEntry{Text: text, At: at}
	f.Output = append(f.Output, entry)
	return entry
}
