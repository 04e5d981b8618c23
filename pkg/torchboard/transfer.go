// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package torchboard

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WeightsFileName is the name of the file uploaded by VisualizeConvs.
const WeightsFileName = "layer_weights.npz"

// VisualizeConvs uploads the model weights to the server, which renders the visualizations of
// its convolution filters. The weights are sent as a NumPy .npz archive, keyed by the dotted
// parameter names.
func (s *Session) VisualizeConvs(ctx context.Context, m *model.Module, iteration int) error {
	data := map[string]any{
		"username":         s.username,
		"project_id":       s.projectID,
		"iteration_number": iteration,
	}
	_, err := s.postMultipart(ctx, EndpointVisualize, data, WeightsFileName, func(w io.Writer) error {
		return m.WriteNpz(w)
	})
	if err != nil {
		return errors.WithMessage(err, "torchboard.VisualizeConvs")
	}
	return nil
}

// DownloadGraphs downloads the zip file with the metrics graphs of the run to destPath.
//
// A response other than 200 is reported with a message and logged, but it is not an error.
// Errors are returned only for failed connections or if the file can't be written.
func (s *Session) DownloadGraphs(ctx context.Context, destPath string) error {
	return s.download(ctx, EndpointDownloadGraphs, "graphs", destPath)
}

// DownloadVisualizations downloads the zip file with the visualizations of the run to destPath.
// See DownloadGraphs for the handling of failures.
func (s *Session) DownloadVisualizations(ctx context.Context, destPath string) error {
	return s.download(ctx, EndpointDownloadVis, "visualizations", destPath)
}

func (s *Session) download(ctx context.Context, endpoint, what, destPath string) error {
	data := map[string]any{
		"username":   s.username,
		"project_id": s.projectID,
	}
	resp, err := s.postFormUnchecked(ctx, endpoint, data)
	if err != nil {
		return errors.WithMessagef(err, "downloading %s", what)
	}
	if resp.StatusCode != 200 {
		s.printf("Visualizations download failed.\n")
		klog.Errorf("torchboard: download of %s failed: %v", what, resp.statusError(endpoint))
		return nil
	}
	if dir := filepath.Dir(destPath); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed creating directory for %q", destPath)
		}
	}
	if err = os.WriteFile(destPath, resp.Body, 0o644); err != nil {
		return errors.Wrapf(err, "failed writing %s to %q", what, destPath)
	}
	klog.V(1).Infof("torchboard: downloaded %s of %s", humanize.Bytes(uint64(len(resp.Body))), what)
	s.printf("Downloaded zip file with %s at %s.\n", what, destPath)
	return nil
}
