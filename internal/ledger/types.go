// Package ledger persists the daily cost rollup.
//
// DESIGN: One document per calendar date, keyed by the local date string
// ("2006-01-02"). The document is append-only: every finished session adds
// one SessionRecord and bumps the totals. Stores only ever see whole
// documents, so a write either lands completely or not at all.
//
// TYPES:
//   - SessionRecord: immutable snapshot produced once per finished session
//   - DailyLedger:   the persisted per-date document
//   - Totals:        the aggregate numbers without the record list
package ledger

import (
	"errors"
	"time"
)

// DateLayout is the key format for ledger documents.
const DateLayout = "2006-01-02"

var (
	// ErrNotFound is returned by stores when no document exists for a date.
	ErrNotFound = errors.New("ledger not found")

	// ErrCorrupt is returned by stores when a document exists but cannot be decoded.
	ErrCorrupt = errors.New("ledger document corrupt")

	// ErrPersistence wraps store write failures. The in-memory ledger stays
	// authoritative and the next write retries with the full document.
	ErrPersistence = errors.New("ledger persistence failed")
)

// SessionRecord is the final accounting of one session.
type SessionRecord struct {
	SessionID          string    `json:"sessionId"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"`
	DurationSeconds    float64   `json:"durationSeconds"`
	Cost               float64   `json:"cost"`
	AudioInputSeconds  float64   `json:"audioInputSeconds"`
	AudioOutputSeconds float64   `json:"audioOutputSeconds"`
}

// AudioSeconds returns input plus output audio seconds.
func (r SessionRecord) AudioSeconds() float64 {
	return r.AudioInputSeconds + r.AudioOutputSeconds
}

// DailyLedger is the persisted rollup for one calendar date.
// TotalCost and TotalSessions always equal the sum and count of Sessions.
type DailyLedger struct {
	Date              string          `json:"date"`
	TotalCost         float64         `json:"totalCost"`
	TotalSessions     int             `json:"totalSessions"`
	TotalAudioSeconds float64         `json:"totalAudioSeconds"`
	Sessions          []SessionRecord `json:"sessions"`
}

// Totals is the aggregate part of a DailyLedger.
type Totals struct {
	Date         string  `json:"date"`
	Cost         float64 `json:"cost"`
	Sessions     int     `json:"sessions"`
	AudioSeconds float64 `json:"audio_seconds"`
}

// NewDailyLedger returns an empty ledger for date.
func NewDailyLedger(date string) *DailyLedger {
	return &DailyLedger{
		Date:     date,
		Sessions: []SessionRecord{},
	}
}

// DateKey formats t as a ledger date key in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Totals returns the aggregate numbers.
func (d *DailyLedger) Totals() Totals {
	return Totals{
		Date:         d.Date,
		Cost:         d.TotalCost,
		Sessions:     d.TotalSessions,
		AudioSeconds: d.TotalAudioSeconds,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (d *DailyLedger) Clone() DailyLedger {
	out := *d
	out.Sessions = make([]SessionRecord, len(d.Sessions))
	copy(out.Sessions, d.Sessions)
	return out
}

func (d *DailyLedger) add(rec SessionRecord) {
	d.Sessions = append(d.Sessions, rec)
	d.TotalCost += rec.Cost
	d.TotalSessions++
	d.TotalAudioSeconds += rec.AudioSeconds()
}

// normalize recomputes the totals from the record list and reports whether
// the stored totals disagreed. Records are authoritative.
func (d *DailyLedger) normalize() bool {
	if d.Sessions == nil {
		d.Sessions = []SessionRecord{}
	}
	var cost, audio float64
	for _, rec := range d.Sessions {
		cost += rec.Cost
		audio += rec.AudioSeconds()
	}
	changed := cost != d.TotalCost || len(d.Sessions) != d.TotalSessions || audio != d.TotalAudioSeconds
	d.TotalCost = cost
	d.TotalSessions = len(d.Sessions)
	d.TotalAudioSeconds = audio
	return changed
}
