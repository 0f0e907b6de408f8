// Package storage persists fill results so they can be fetched by job.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/gapfill/pkg/gapfill"
)

// ChannelFill is the stored fill of one channel.
type ChannelFill struct {
	Name     string    `json:"name"`
	Values   []float64 `json:"values"`
	Repaired []int     `json:"repaired,omitempty"`
	Energy   float64   `json:"energy"`
	Solver   string    `json:"solver"`
}

// Record is the stored result of one fill job.
type Record struct {
	Job             string        `json:"job"`
	CreatedAt       time.Time     `json:"created_at"`
	GapStart        time.Time     `json:"gap_start"`
	GapEnd          time.Time     `json:"gap_end"`
	IntervalSeconds int64         `json:"interval_seconds"`
	Timestamps      []time.Time   `json:"timestamps"`
	Channels        []ChannelFill `json:"channels"`
}

// NewRecord converts a fill result into a Record.
func NewRecord(job string, res *gapfill.Result, at time.Time) Record {
	rec := Record{
		Job:             job,
		CreatedAt:       at,
		GapStart:        res.Gap.Start,
		GapEnd:          res.Gap.End,
		IntervalSeconds: int64(res.Gap.Interval / time.Second),
		Timestamps:      res.Gap.Timestamps(),
		Channels:        make([]ChannelFill, len(res.Channels)),
	}
	for i, c := range res.Channels {
		rec.Channels[i] = ChannelFill{
			Name:     c.Channel,
			Values:   c.Values,
			Repaired: c.Repaired,
			Energy:   c.Energy,
			Solver:   c.Solver,
		}
	}
	return rec
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	GetLatest(ctx context.Context, job string) (Record, bool, error)
}

// ValidateJob checks that a job key is usable by every backend.
func ValidateJob(job string) error {
	if job == "" {
		return fmt.Errorf("job name required")
	}
	for _, c := range job {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid job name %q: only alphanumeric, hyphens, and underscores allowed", job)
		}
	}
	return nil
}
