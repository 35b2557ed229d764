// Package lifecycle derives the six-stage order timeline shown to customers.
//
// Derive is pure: it reads only the snapshot it is given, so identical
// snapshots always produce identical timelines.
package lifecycle

import (
	"time"

	"github.com/rickgao/fabsync/internal/model"
)

// StageCount is the fixed number of timeline stages.
const StageCount = 6

// Display layouts, rendered in UTC.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Kind tells whether a stage timestamp was recorded by the server or
// estimated from the order's creation time.
type Kind int

const (
	Actual Kind = iota
	Estimated
)

func (k Kind) String() string {
	if k == Estimated {
		return "estimated"
	}
	return "actual"
}

// Timestamp is a stage time tagged with its provenance.
type Timestamp struct {
	Time time.Time
	Kind Kind
}

// IsEstimated reports whether the time is a display fallback.
func (t Timestamp) IsEstimated() bool { return t.Kind == Estimated }

// Stage is one step of the timeline.
type Stage struct {
	Step      int
	Label     string
	Completed bool
	IsCurrent bool
	At        Timestamp
	Date      string // DateLayout, empty when At is zero
	Time      string // TimeLayout, empty when At is zero
}

// Timeline is the derived stage list, always in step order.
type Timeline [StageCount]Stage

type stageDef struct {
	label string
	// completedFrom is the first pipeline status at which the stage counts
	// as completed. Empty means always completed.
	completedFrom model.OrderStatus
	// current is the status at which the stage is the current one.
	current model.OrderStatus
	// actual picks the recorded timestamp, if any.
	actual func(model.Order) *time.Time
}

var stages = [StageCount]stageDef{
	{
		label:  "Inquiry Generation",
		actual: func(o model.Order) *time.Time { return timePtr(o.CreatedAt) },
	},
	{
		label: "Quotation Preparation",
		actual: func(o model.Order) *time.Time {
			if o.Quotation == nil {
				return nil
			}
			return o.Quotation.CreatedAt
		},
	},
	{
		label:         "Customer Response",
		completedFrom: model.StatusConfirmed,
		current:       model.StatusConfirmed,
		actual:        func(o model.Order) *time.Time { return o.ConfirmedAt },
	},
	{
		label:         "Payment Process",
		completedFrom: model.StatusInProduction,
		current:       model.StatusInProduction,
		actual: func(o model.Order) *time.Time {
			if o.Payment == nil {
				return nil
			}
			return o.Payment.PaidAt
		},
	},
	{
		label:         "Order Dispatch",
		completedFrom: model.StatusDispatched,
		current:       model.StatusDispatched,
		actual: func(o model.Order) *time.Time {
			if o.Dispatch == nil {
				return nil
			}
			return o.Dispatch.DispatchedAt
		},
	},
	{
		label:         "Order Delivered",
		completedFrom: model.StatusDelivered,
		current:       model.StatusDelivered,
		actual: func(o model.Order) *time.Time {
			if o.Dispatch == nil {
				return nil
			}
			return o.Dispatch.ActualDelivery
		},
	},
}

// Derive builds the timeline for an order snapshot.
func Derive(o model.Order) Timeline {
	var out Timeline
	for i, def := range stages {
		step := i + 1
		at := stampFor(o, step, def)

		s := Stage{
			Step:      step,
			Label:     def.label,
			Completed: def.completedFrom == "" || o.Status.AtLeast(def.completedFrom),
			IsCurrent: def.current != "" && o.Status == def.current,
			At:        at,
		}
		if !at.Time.IsZero() {
			utc := at.Time.UTC()
			s.Date = utc.Format(DateLayout)
			s.Time = utc.Format(TimeLayout)
		}
		out[i] = s
	}
	return out
}

// stampFor prefers the recorded timestamp and falls back to
// createdAt + (step-1) days.
func stampFor(o model.Order, step int, def stageDef) Timestamp {
	if t := def.actual(o); t != nil && !t.IsZero() {
		return Timestamp{Time: *t, Kind: Actual}
	}
	if o.CreatedAt.IsZero() {
		return Timestamp{Kind: Estimated}
	}
	return Timestamp{
		Time: o.CreatedAt.AddDate(0, 0, step-1),
		Kind: Estimated,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Labels returns the stage labels in step order.
func Labels() []string {
	out := make([]string, StageCount)
	for i, def := range stages {
		out[i] = def.label
	}
	return out
}

// Current returns the current stage, if any.
func (tl Timeline) Current() (Stage, bool) {
	for _, s := range tl {
		if s.IsCurrent {
			return s, true
		}
	}
	return Stage{}, false
}

// Progress returns the number of completed stages.
func (tl Timeline) Progress() int {
	n := 0
	for _, s := range tl {
		if s.Completed {
			n++
		}
	}
	return n
}
