// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// seqtrain_checkpoints inspects a saved training checkpoint: summary, model
// configuration, optimizer history, extra state and per-weight details.
//
// Usage:
//
//	seqtrain_checkpoints --summary --history <checkpoint_file>
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/seqtrain/checkpoints"
	"github.com/gomlx/seqtrain/support/fsutil"
	"github.com/gomlx/seqtrain/support/xslices"
	"github.com/gomlx/seqtrain/tensors"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the checkpoint: model size, "+
		"history length and bookkeeping state.")
	flagArgs    = flag.Bool("args", false, "Lists the model/criterion configuration record.")
	flagHistory = flag.Bool("history", false, "Lists the optimizer history, one row per training segment.")
	flagExtra   = flag.Bool("extra", false, "Lists the extra-state record (epoch counters, validation loss, ...).")
	flagVars    = flag.Bool("vars", false, "Lists the model weights with shapes and sizes.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint file to read from. See 'seqtrain_checkpoints -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'seqtrain_checkpoints -help'.")
		os.Exit(1)
	}
	if !*flagSummary && !*flagArgs && !*flagHistory && !*flagExtra && !*flagVars {
		*flagSummary = true
	}
	checkpointPath := fsutil.MustReplaceTildeInDir(args[0])
	if !fsutil.MustFileExists(checkpointPath) {
		klog.Errorf("Checkpoint file %q does not exist.", checkpointPath)
		os.Exit(1)
	}
	report(checkpointPath)
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// formatValue renders a metadata value for display. JSON decodes lists as
// []any, which %v would print with neither commas nor element types.
func formatValue(value any) string {
	if list, ok := value.([]any); ok {
		return strings.Join(xslices.Map(list, func(e any) string { return fmt.Sprintf("%v", e) }), ", ")
	}
	return fmt.Sprintf("%v", value)
}

func report(checkpointPath string) {
	snapshot := must.M1(checkpoints.ReadSnapshot(checkpointPath, tensors.CPU))

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false)
		table.Row("checkpoint", checkpointPath)
		if snapshot.SnapshotID != "" {
			table.Row("snapshot id", snapshot.SnapshotID)
		}
		var totalSize, totalMemory int
		for _, t := range snapshot.Weights {
			totalSize += t.Size()
			totalMemory += t.Memory()
		}
		table.Row("# weights", humanize.Comma(int64(len(snapshot.Weights))))
		table.Row("# parameters", humanize.Comma(int64(totalSize)))
		table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
		table.Row("# history entries", humanize.Comma(int64(len(snapshot.History))))
		if len(snapshot.History) > 0 {
			last := xslices.Last(snapshot.History)
			table.Row("criterion", last.CriterionName)
			table.Row("best loss", fmt.Sprintf("%f", last.BestLoss))
		}
		fmt.Println(table.Render())
	}

	if *flagArgs {
		fmt.Println(titleStyle.Render("Configuration"))
		table := newPlainTable(true)
		table.Row("Name", "Type", "Value")
		for _, name := range xslices.SortedKeys(snapshot.Args) {
			value := snapshot.Args[name]
			table.Row(name, fmt.Sprintf("%T", value), formatValue(value))
		}
		fmt.Println(table.Render())
	}

	if *flagHistory {
		fmt.Println(titleStyle.Render("Optimizer History"))
		table := newPlainTable(true)
		table.Row("#", "Criterion", "Best Loss", "# State Keys")
		for ii, epoch := range snapshot.History {
			table.Row(
				fmt.Sprintf("%d", ii),
				epoch.CriterionName,
				fmt.Sprintf("%f", epoch.BestLoss),
				humanize.Comma(int64(len(epoch.Optimizer))),
			)
		}
		fmt.Println(table.Render())
	}

	if *flagExtra {
		fmt.Println(titleStyle.Render("Extra State"))
		table := newPlainTable(true)
		table.Row("Name", "Type", "Value")
		for _, name := range xslices.SortedKeys(snapshot.Extra) {
			value := snapshot.Extra[name]
			table.Row(name, fmt.Sprintf("%T", value), formatValue(value))
		}
		fmt.Println(table.Render())
	}

	if *flagVars {
		fmt.Println(titleStyle.Render("Weights"))
		table := newPlainTable(true)
		table.Row("Name", "Shape", "Size", "Bytes")
		for _, name := range xslices.SortedKeys(snapshot.Weights) {
			t := snapshot.Weights[name]
			table.Row(name, t.String(),
				humanize.Comma(int64(t.Size())),
				humanize.Bytes(uint64(t.Memory())))
		}
		fmt.Println(table.Render())
	}
}
