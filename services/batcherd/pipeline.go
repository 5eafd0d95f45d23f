package batcherd

import (
	"context"
	"errors"
	"log/slog"

	"merkledrop/native/distribution"
)

// Pipeline drains the score source for a day and pushes every category's
// cohort through the scheduler.
type Pipeline struct {
	source    ScoreSource
	scheduler *Scheduler
	log       *slog.Logger
}

// NewPipeline wires a score source to a scheduler.
func NewPipeline(source ScoreSource, scheduler *Scheduler, log *slog.Logger) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("batcherd: score source required")
	}
	if scheduler == nil {
		return nil, errors.New("batcherd: scheduler required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{source: source, scheduler: scheduler, log: log}, nil
}

// RunDay builds and submits every category batch for the day, returning the
// slot results so proof material can be handed to claimers. Categories with
// no scores are skipped.
func (p *Pipeline) RunDay(ctx context.Context, day uint64) ([]SlotResult, error) {
	var results []SlotResult
	for i := uint8(0); i < distribution.CategoryCount; i++ {
		category := distribution.Category(i)
		entries, err := p.source.Entries(day, category)
		if err != nil {
			return results, err
		}
		if len(entries) == 0 {
			continue
		}
		slotResults, err := p.scheduler.SubmitSlot(ctx, day, category, entries)
		if err != nil {
			return results, err
		}
		p.log.Info("category processed",
			"day", day, "category", category.String(),
			"entries", len(entries), "slots", len(slotResults))
		results = append(results, slotResults...)
	}
	return results, nil
}
