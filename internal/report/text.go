package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// WriteMatrix prints a confusion matrix as an aligned table with a header
// line naming the mode.
func WriteMatrix(w io.Writer, values [][]float64, labels []string, normalized bool) error {
	header := "Confusion matrix, without normalization"
	format := "%.0f"
	if normalized {
		header = "Normalized confusion matrix"
		format = "%.2f"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for i, row := range values {
		name := strconv.Itoa(i)
		if i < len(labels) {
			name = labels[i]
		}
		fmt.Fprintf(tw, "%s\t", name)
		for _, v := range row {
			fmt.Fprintf(tw, format+"\t", v)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
