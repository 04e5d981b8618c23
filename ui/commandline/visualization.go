// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/visualizers"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// VisualizationProgress displays the progress of a batch of visualizations.
// Its OnJobDone method is meant to be used as visualizers.BatchOptions.OnJobDone.
type VisualizationProgress struct {
	mu       sync.Mutex
	out      io.Writer
	bar      *progressbar.ProgressBar
	total    int
	done     int
	failures []string
}

// NewVisualizationProgress creates a progress bar for numJobs visualizations.
func NewVisualizationProgress(numJobs int) *VisualizationProgress {
	return newVisualizationProgress(os.Stdout, numJobs)
}

func newVisualizationProgress(out io.Writer, numJobs int) *VisualizationProgress {
	return &VisualizationProgress{
		out:   out,
		total: numJobs,
		bar: progressbar.NewOptions(numJobs,
			progressbar.OptionSetDescription("Visualizing filters"),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(ProgressbarStyle),
			progressbar.OptionSetWriter(out),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(out) }),
		),
	}
}

// OnJobDone advances the progress bar, recording the job if it failed.
func (p *VisualizationProgress) OnJobDone(job visualizers.Job, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if err != nil {
		p.failures = append(p.failures, fmt.Sprintf("%s: %v", job, err))
	}
	_ = p.bar.Add(1)
}

// Failures returns the description of the failed jobs so far.
func (p *VisualizationProgress) Failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failures...)
}

// Summary returns a one-line summary of the visualizations run, e.g. "1,024 of 1,024 visualizations done, 0 failed".
func (p *VisualizationProgress) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s of %s visualizations done, %s failed",
		humanize.Comma(int64(p.done)), humanize.Comma(int64(p.total)), humanize.Comma(int64(len(p.failures))))
}
