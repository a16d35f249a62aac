package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// PassReport — сводка одного прохода диспетчера.
type PassReport struct {
	Selected int
	Posted   int
	Rearmed  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Dispatcher выбирает посты, которые пора публиковать, и обрабатывает их по одному.
type Dispatcher struct {
	repo      domain.PostRepo
	processor *Processor
	cooldown  time.Duration
	clock     domain.Clock
	log       zerolog.Logger
}

// NewDispatcher создаёт диспетчер. cooldown <= 0 заменяется значением по умолчанию.
func NewDispatcher(repo domain.PostRepo, processor *Processor, cooldown time.Duration, logger zerolog.Logger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = domain.DefaultFailureCooldown
	}
	return &Dispatcher{repo: repo, processor: processor, cooldown: cooldown, clock: time.Now, log: logger}
}

// RunPass выполняет один проход. Ошибкой завершается только выборка;
// ошибки отдельных постов отражены в отчёте.
func (d *Dispatcher) RunPass(ctx context.Context) (PassReport, error) {
	start := time.Now()
	now := d.clock().UTC()

	posts, err := d.repo.ListDue(ctx, now, d.cooldown)
	if err != nil {
		metrics.ObservePass(start, 0, err)
		return PassReport{}, fmt.Errorf("выборка постов: %w", err)
	}

	report := PassReport{Selected: len(posts)}
	d.log.Info().Int("selected", report.Selected).Time("now", now).Msg("scheduler: проход начат")

	for i, post := range posts {
		if ctx.Err() != nil {
			report.Skipped += len(posts) - i
			break
		}
		d.log.Debug().
			Str("post_id", post.ID).
			Str("status", string(post.Status)).
			Interface("due_at", post.DueAt()).
			Msg("scheduler: обработка поста")

		res := d.processor.Process(ctx, post)
		switch res.Outcome {
		case OutcomePosted:
			report.Posted++
		case OutcomeRearmed:
			report.Rearmed++
		case OutcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	report.Duration = time.Since(start)
	metrics.ObservePass(start, report.Selected, nil)
	d.log.Info().
		Int("selected", report.Selected).
		Int("posted", report.Posted).
		Int("rearmed", report.Rearmed).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("scheduler: проход завершён")
	return report, nil
}
