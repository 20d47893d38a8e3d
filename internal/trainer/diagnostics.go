package trainer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"genre-forge/internal/checkpoint"
	"genre-forge/internal/metrics"
	"genre-forge/internal/model"
	"genre-forge/internal/nn"
	"genre-forge/internal/report"
)

// Diagnostics records the artifacts written for one qualifying iteration.
type Diagnostics struct {
	Iteration  int
	Checkpoint string
	Heatmap    string
	Confusion  *metrics.ConfusionMatrix
	Macro      metrics.Scores
}

// diagnose snapshots the model, scores it on the test partition and renders
// the confusion matrix.
func diagnose(cfg RunConfig, it int, ev Evaluation, test model.Batch, truth []int) (Diagnostics, error) {
	d := Diagnostics{Iteration: it}
	fmt.Fprintln(cfg.Report, "Saving confusion data...")

	snap := cfg.Model.Snapshot()
	snap.Labels = append([]string(nil), cfg.Labels...)
	snap.Iteration = it
	snap.ValidationAccuracy = ev.Validation.Accuracy
	snap.TestAccuracy = ev.Test.Accuracy
	snap.CreatedAt = time.Now()
	d.Checkpoint = filepath.Join(cfg.OutputDir, checkpoint.FileName(ev.Validation.Accuracy, ev.Test.Accuracy))
	if err := checkpoint.Write(d.Checkpoint, snap); err != nil {
		return d, err
	}

	probs, err := cfg.Model.Predict(test.Inputs)
	if err != nil {
		return d, errors.Wrapf(err, "trainer: predict test at iteration %d", it)
	}
	pred := make([]int, len(probs))
	for i, p := range probs {
		pred[i] = nn.ArgMax(p)
	}
	d.Confusion, err = metrics.Confusion(truth, pred, len(cfg.Labels))
	if err != nil {
		return d, errors.Wrap(err, "trainer: confusion matrix")
	}
	d.Macro = d.Confusion.MacroScores()

	values := d.Confusion.Values(cfg.NormalizeConfusion)
	if err := report.WriteMatrix(cfg.Report, values, cfg.Labels, cfg.NormalizeConfusion); err != nil {
		return d, errors.Wrap(err, "trainer: print confusion matrix")
	}
	fmt.Fprintln(cfg.Report, d.Macro)

	title := "Confusion matrix, without normalization"
	if cfg.NormalizeConfusion {
		title = "Normalized confusion matrix"
	}
	d.Heatmap = filepath.Join(cfg.OutputDir, report.HeatmapFile(it))
	if err := report.ConfusionHeatmap(d.Heatmap, values, cfg.Labels, cfg.NormalizeConfusion, title); err != nil {
		return d, err
	}

	klog.InfoS("Saved diagnostics",
		"iteration", it,
		"checkpoint", d.Checkpoint,
		"heatmap", d.Heatmap,
		"testAccuracy", d.Confusion.Accuracy(),
		"precision", d.Macro.Precision,
		"recall", d.Macro.Recall,
		"f1", d.Macro.F1,
	)
	return d, nil
}
