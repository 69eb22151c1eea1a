package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/dustin/go-humanize"
)

// WriteClassificationReport prints per-class precision, recall, F1 and
// support followed by accuracy and the macro and weighted averages.
func WriteClassificationReport(out io.Writer, r *model.ClassificationReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "\t"+header("precision", "recall", "f1-score", "support")+"\t")
	fmt.Fprintln(w, "\t\t\t\t\t")
	for _, c := range r.Classes {
		writeMetricsRow(w, c)
	}
	fmt.Fprintln(w, "\t\t\t\t\t")
	fmt.Fprintf(w, "accuracy\t\t\t%.2f\t%d\t\n", r.Accuracy, r.Total)
	writeMetricsRow(w, r.MacroAvg)
	writeMetricsRow(w, r.WeightedAvg)

	return w.Flush()
}

func writeMetricsRow(w io.Writer, c model.ClassMetrics) {
	fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
}

// WriteConfusionMatrix prints the matrix with actual classes on the rows and
// predicted classes on the columns.
func WriteConfusionMatrix(out io.Writer, m *model.ConfusionMatrix) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	names := m.Classes.Names()

	fmt.Fprintln(w, "actual \\ predicted\t"+header(names...))
	for i, name := range names {
		cells := make([]string, len(names))
		for j := range names {
			cells[j] = strconv.Itoa(m.Counts[i][j])
		}
		fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

// WriteRuns prints one line per registry run. Start times are shown
// relative to now.
func WriteRuns(out io.Writer, runs []model.Run, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, header("ID", "STARTED", "STATUS", "EPOCHS", "LOSS", "ACCURACY", "DEVICE", "CLASSES"))
	for _, run := range runs {
		status := string(run.Status)
		switch run.Status {
		case model.RunStatusCompleted:
			status = SuccessStyle.Render(status)
		case model.RunStatusFailed:
			status = ErrorStyle.Render(status)
		case model.RunStatusCanceled:
			status = WarningStyle.Render(status)
		case model.RunStatusRunning:
			status = InfoStyle.Render(status)
		}

		loss, acc := "-", "-"
		if run.Status == model.RunStatusCompleted {
			loss = fmt.Sprintf("%.4f", run.FinalLoss)
			acc = fmt.Sprintf("%.2f%%", 100*run.FinalAccuracy)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			run.ID,
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			status,
			run.Params.Epochs,
			loss,
			acc,
			run.Device,
			strings.Join(run.Classes.Names(), ","),
		)
	}
	return w.Flush()
}

// FormatPrediction renders a prediction the way the predict command prints
// it, e.g. "Predicted: dogs (97.12% confidence)".
func FormatPrediction(r model.PredictionResult) string {
	return fmt.Sprintf("Predicted: %s (%.2f%% confidence)", r.Label, 100*r.Confidence)
}

// FormatSize renders a byte count such as a checkpoint size.
func FormatSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}

// WriteEpochs prints the per-epoch metrics of a run. Validation columns show
// "-" for epochs without a validation pass.
func WriteEpochs(out io.Writer, epochs []model.EpochMetrics) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, header("EPOCH", "LOSS", "ACCURACY", "SAMPLES", "SKIPPED", "VAL LOSS", "VAL ACCURACY", "DURATION"))
	for _, m := range epochs {
		valLoss, valAcc := "-", "-"
		if m.HasValidation {
			valLoss = fmt.Sprintf("%.4f", m.ValLoss)
			valAcc = fmt.Sprintf("%.2f%%", 100*m.ValAccuracy)
		}
		fmt.Fprintf(w, "%d\t%.4f\t%.2f%%\t%d\t%d\t%s\t%s\t%s\n",
			m.Epoch, m.Loss, 100*m.Accuracy, m.Samples, m.Skipped, valLoss, valAcc, m.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}

// WriteEvaluations prints recorded evaluation passes.
func WriteEvaluations(out io.Writer, evaluations []model.Evaluation, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, header("ID", "CREATED", "ACCURACY", "SAMPLES", "CHECKPOINT", "PLOT"))
	for _, e := range evaluations {
		plot := e.PlotPath
		if plot == "" {
			plot = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%.2f%%\t%d\t%s\t%s\n",
			e.ID,
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			100*e.Accuracy,
			e.Samples,
			e.CheckpointPath,
			plot,
		)
	}
	return w.Flush()
}
