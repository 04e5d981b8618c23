// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package torchboard is a client to a torchboard tracking server: it registers a training run
// (a user, a project and the model definition), logs per-epoch metrics, uploads the model
// weights for server-side visualization and downloads the resulting graphs and images as zip
// files.
//
// Example:
//
//	session, err := torchboard.Init(ctx, torchboard.Config{BaseURL: "http://localhost:5000"},
//		"kaustubh", "stripes cnn", description)
//	if err != nil { ... }
//	err = session.Log(ctx, torchboard.Metrics{torchboard.Epoch: 1, torchboard.TrainLoss: 0.3})
//	...
//	err = session.DownloadGraphs(ctx, "downloaded_zips/graphs-3.zip")
package torchboard

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTimeout of the requests to the tracking server, used if Config.Timeout is 0.
const DefaultTimeout = 5 * time.Minute

// HashLength is the number of hex digits of the run hash appended to the project id.
const HashLength = 12

// Endpoints of the tracking server, relative to Config.BaseURL.
const (
	EndpointInitialize     = "initialize"
	EndpointInsertRows     = "postgres/insertRows"
	EndpointVisualize      = "visualize2"
	EndpointDownloadGraphs = "downloadGraphs"
	EndpointDownloadVis    = "downloadVis"
)

// ErrUnexpectedStatus is returned when the tracking server responds with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status from tracking server")

// Config of the connection to the tracking server.
type Config struct {
	// BaseURL of the server, e.g. "http://localhost:5000". Endpoints are appended to it.
	BaseURL string

	// Timeout of each request. Defaults to DefaultTimeout. Ignored if HTTPClient is set.
	Timeout time.Duration

	// HTTPClient to use. If nil a new client with Timeout is created.
	HTTPClient *http.Client

	// Output where the one-line user messages are printed. Defaults to os.Stdout.
	Output io.Writer
}

// ModelInfo describes the model registered with a run.
type ModelInfo = models.Description

// Session is an initialized tracking run. All the calls are tagged with its username and
// project id.
//
// A Session is safe for concurrent use.
type Session struct {
	baseURL   string
	client    *http.Client
	output    io.Writer
	username  string
	projectID string
}

// Init registers a new run with the tracking server and returns its session.
//
// The projectID is trimmed, spaces are replaced by "-", and a random hash of HashLength hex
// digits is appended, so each run has a different project id for the same username.
// The run is registered with the "initialize" endpoint (with the model description), and rows
// are added to the "users" and "model_hashes" tables.
func Init(ctx context.Context, cfg Config, username, projectID string, info ModelInfo) (*Session, error) {
	s := newSession(cfg, username, MakeProjectID(projectID))
	args := info.Args
	if args == nil {
		args = map[string]any{}
	}
	data := map[string]any{
		"username":          s.username,
		"project_id":        s.projectID,
		"model_class_name":  info.ClassName,
		"model_source_code": info.SourceCode,
		"model_class_args":  args,
	}
	if _, err := s.postForm(ctx, EndpointInitialize, data); err != nil {
		return nil, errors.WithMessage(err, "torchboard.Init")
	}
	s.printf("Initializing torchboard.\n")
	if err := s.insertRows(ctx, "users", []any{s.username}); err != nil {
		return nil, errors.WithMessage(err, "torchboard.Init")
	}
	if err := s.insertRows(ctx, "model_hashes", []any{s.username, s.projectID}); err != nil {
		return nil, errors.WithMessage(err, "torchboard.Init")
	}
	klog.V(1).Infof("torchboard: initialized run %q for user %q", s.projectID, s.username)
	return s, nil
}

// Resume returns a session for a run previously created with Init, without contacting the server.
func Resume(cfg Config, username, projectID string) *Session {
	return newSession(cfg, username, projectID)
}

func newSession(cfg Config, username, projectID string) *Session {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	return &Session{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client:    client,
		output:    output,
		username:  username,
		projectID: projectID,
	}
}

// MakeProjectID normalizes the project name (trimmed, spaces replaced by "-") and appends "-"
// followed by a new run hash.
func MakeProjectID(project string) string {
	project = strings.ReplaceAll(strings.TrimSpace(project), " ", "-")
	return project + "-" + newRunHash()
}

// newRunHash returns the first HashLength hex digits of the SHA-1 of the current time and a
// random UUID.
func newRunHash() string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d%s", time.Now().UnixNano(), uuid.NewString())))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Username of the run.
func (s *Session) Username() string { return s.username }

// ProjectID of the run, including the run hash.
func (s *Session) ProjectID() string { return s.projectID }

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.output, format, args...)
}
