package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/schollz/progressbar/v3"
)

// TrainingProgress draws one progress bar per epoch. It satisfies
// training.Observer.
type TrainingProgress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	epochs int
}

// NewTrainingProgress returns a progress display for a run of epochs epochs.
func NewTrainingProgress(writer io.Writer, epochs int) *TrainingProgress {
	return &TrainingProgress{writer: writer, epochs: epochs}
}

func (p *TrainingProgress) newBar(epoch, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]Epoch %d/%d[reset]", epoch, p.epochs)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// OnBatch advances the current epoch's bar.
func (p *TrainingProgress) OnBatch(_ context.Context, b model.BatchProgress) {
	if p.bar == nil || b.Batch == 1 {
		p.bar = p.newBar(b.Epoch, b.TotalBatches)
	}
	p.bar.Describe(fmt.Sprintf("[cyan][bold]Epoch %d/%d[reset] loss %.4f acc %5.1f%%",
		b.Epoch, p.epochs, b.AvgLoss, 100*b.Accuracy))
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// OnEpoch closes the bar and prints the epoch summary.
func (p *TrainingProgress) OnEpoch(_ context.Context, m model.EpochMetrics) {
	if p.bar != nil {
		if !p.bar.IsFinished() {
			_ = p.bar.Finish()
		}
		p.bar = nil
	}

	line := fmt.Sprintf("Epoch %d/%d: loss %.4f, accuracy %.2f%% (%d samples, %s)",
		m.Epoch, p.epochs, m.Loss, 100*m.Accuracy, m.Samples, m.Duration.Round(time.Millisecond))
	if m.Skipped > 0 {
		line += fmt.Sprintf(", %d skipped", m.Skipped)
	}
	if m.HasValidation {
		line += fmt.Sprintf(" | val loss %.4f, val accuracy %.2f%%", m.ValLoss, 100*m.ValAccuracy)
	}
	if _, err := fmt.Fprintln(p.writer, FormatSuccess(line)); err != nil {
		slog.Warn("Failed to write epoch summary", "error", err)
	}
}
