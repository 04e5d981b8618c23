package torchboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/numpy"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request received by the fake server.
type request struct {
	Endpoint    string
	ContentType string
	Form        map[string]string // Form fields, JSON "data" included.
	JSON        map[string]any    // JSON body.
	File        []byte            // Multipart "file".
	FileName    string
}

// fakeServer records the requests, and responds with status (200 if not set) per endpoint.
type fakeServer struct {
	t        *testing.T
	mu       sync.Mutex
	requests []request
	status   map[string]int
	zip      []byte
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{t: t, status: make(map[string]int), zip: []byte("PK\x03\x04 fake zip")}
	server := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(server.Close)
	return fs, server
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	req := request{
		Endpoint:    strings.TrimPrefix(r.URL.Path, "/"),
		ContentType: r.Header.Get("Content-Type"),
		Form:        make(map[string]string),
	}
	assert.Equal(fs.t, http.MethodPost, r.Method)
	switch {
	case strings.HasPrefix(req.ContentType, "application/json"):
		body, err := io.ReadAll(r.Body)
		assert.NoError(fs.t, err)
		assert.NoError(fs.t, json.Unmarshal(body, &req.JSON))
	case strings.HasPrefix(req.ContentType, "multipart/form-data"):
		assert.NoError(fs.t, r.ParseMultipartForm(1<<20))
		for key, values := range r.MultipartForm.Value {
			req.Form[key] = values[0]
		}
		file, header, err := r.FormFile("file")
		if assert.NoError(fs.t, err) {
			req.FileName = header.Filename
			req.File, _ = io.ReadAll(file)
		}
	default:
		assert.NoError(fs.t, r.ParseForm())
		for key := range r.PostForm {
			req.Form[key] = r.PostForm.Get(key)
		}
	}
	fs.mu.Lock()
	fs.requests = append(fs.requests, req)
	status, found := fs.status[req.Endpoint]
	fs.mu.Unlock()
	if !found {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if strings.HasPrefix(req.Endpoint, "download") && status == http.StatusOK {
		_, _ = w.Write(fs.zip)
	}
}

func (fs *fakeServer) SetStatus(endpoint string, status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.status[endpoint] = status
}

func (fs *fakeServer) Requests() []request {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.requests
}

func formData(t *testing.T, req request) map[string]any {
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Form["data"]), &data))
	return data
}

func TestMakeProjectID(t *testing.T) {
	id := MakeProjectID("  my cnn project ")
	assert.Regexp(t, regexp.MustCompile(`^my-cnn-project-[0-9a-f]{12}$`), id)
	assert.NotEqual(t, id, MakeProjectID("  my cnn project "), "each run gets a new hash")
}

func TestInit(t *testing.T) {
	fs, server := newFakeServer(t)
	var out bytes.Buffer
	info := ModelInfo{ClassName: "SmallCNN", SourceCode: "type SmallCNN struct{}", Args: map[string]any{"classes": 2}}
	s, err := Init(context.Background(), Config{BaseURL: server.URL + "/", Output: &out}, "kaustubh", "mnist cnn", info)
	require.NoError(t, err)
	assert.Equal(t, "kaustubh", s.Username())
	assert.True(t, strings.HasPrefix(s.ProjectID(), "mnist-cnn-"))
	assert.Equal(t, "Initializing torchboard.\n", out.String())

	reqs := fs.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, EndpointInitialize, reqs[0].Endpoint)
	data := formData(t, reqs[0])
	assert.Equal(t, "kaustubh", data["username"])
	assert.Equal(t, s.ProjectID(), data["project_id"])
	assert.Equal(t, "SmallCNN", data["model_class_name"])
	assert.Equal(t, info.SourceCode, data["model_source_code"])
	assert.Equal(t, map[string]any{"classes": 2.0}, data["model_class_args"])

	assert.Equal(t, EndpointInsertRows, reqs[1].Endpoint)
	assert.Equal(t, map[string]any{"table_name": "users", "rows": []any{[]any{"kaustubh"}}}, reqs[1].JSON)
	assert.Equal(t, map[string]any{"table_name": "model_hashes", "rows": []any{[]any{"kaustubh", s.ProjectID()}}}, reqs[2].JSON)

	// Nil args are sent as an empty object.
	_, err = Init(context.Background(), Config{BaseURL: server.URL, Output: io.Discard}, "u", "p", ModelInfo{ClassName: "X"})
	require.NoError(t, err)
	reqs = fs.Requests()
	assert.Equal(t, map[string]any{}, formData(t, reqs[3])["model_class_args"])
}

func TestInitFailure(t *testing.T) {
	fs, server := newFakeServer(t)
	fs.SetStatus(EndpointInitialize, http.StatusInternalServerError)
	_, err := Init(context.Background(), Config{BaseURL: server.URL, Output: io.Discard}, "u", "p", ModelInfo{})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Len(t, fs.Requests(), 1, "no rows inserted after a failed initialization")

	_, err = Init(context.Background(), Config{BaseURL: "http://127.0.0.1:1", Output: io.Discard}, "u", "p", ModelInfo{})
	require.Error(t, err)
}

func TestLog(t *testing.T) {
	fs, server := newFakeServer(t)
	var out bytes.Buffer
	s := Resume(Config{BaseURL: server.URL, Output: &out}, "u", "proj-0123456789ab")
	require.NoError(t, s.Log(context.Background(), Metrics{Epoch: 2, ValAcc: 87.5, "unknown": 1}))
	assert.Equal(t, "Logging {epoch: 2, unknown: 1, val-acc: 87.5}\n", out.String())

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, EndpointInsertRows, reqs[0].Endpoint)
	assert.Equal(t, "training_metrics", reqs[0].JSON["table_name"])
	assert.Equal(t, []any{[]any{"u", "proj-0123456789ab", 2.0, nil, nil, nil, 87.5, nil, nil}}, reqs[0].JSON["rows"])

	row := s.Row(Metrics{Epoch: 1, TrainLoss: math.NaN()})
	assert.Equal(t, []any{"u", "proj-0123456789ab", 1.0, nil, nil, nil, nil, nil, nil}, row)

	fs.SetStatus(EndpointInsertRows, http.StatusBadRequest)
	require.ErrorIs(t, s.Log(context.Background(), Metrics{Epoch: 3}), ErrUnexpectedStatus)
}

func TestVisualizeConvs(t *testing.T) {
	fs, server := newFakeServer(t)
	s := Resume(Config{BaseURL: server.URL, Output: io.Discard}, "u", "proj")
	rng := rand.New(rand.NewPCG(1, 1))
	m := model.Sequential("net",
		model.New("conv1", layers.Convolution(3).Channels(2).KernelSize(3).WithRand(rng).Done()),
	)
	require.NoError(t, s.VisualizeConvs(context.Background(), m, 3))

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, EndpointVisualize, req.Endpoint)
	assert.Equal(t, WeightsFileName, req.FileName)
	assert.Equal(t, map[string]any{"username": "u", "project_id": "proj", "iteration_number": 3.0}, formData(t, req))

	weights, err := numpy.FromNpzReader(bytes.NewReader(req.File), int64(len(req.File)))
	require.NoError(t, err)
	state := m.StateDict()
	require.Len(t, weights, len(state))
	for name, value := range state {
		require.Contains(t, weights, name)
		assert.True(t, value.Equal(weights[name]), "weights of %q differ", name)
	}
}

func TestDownloads(t *testing.T) {
	fs, server := newFakeServer(t)
	var out bytes.Buffer
	s := Resume(Config{BaseURL: server.URL, Output: &out}, "u", "proj")
	dir := t.TempDir()
	graphsPath := filepath.Join(dir, "downloaded_zips", "graphs-3.zip")
	require.NoError(t, s.DownloadGraphs(context.Background(), graphsPath))
	content, err := os.ReadFile(graphsPath)
	require.NoError(t, err)
	assert.Equal(t, fs.zip, content)
	assert.Equal(t, "Downloaded zip file with graphs at "+graphsPath+".\n", out.String())

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, EndpointDownloadGraphs, reqs[0].Endpoint)
	assert.Equal(t, map[string]any{"username": "u", "project_id": "proj"}, formData(t, reqs[0]))

	// Failure is reported, but it is not an error, and nothing is written.
	out.Reset()
	fs.SetStatus(EndpointDownloadVis, http.StatusNotFound)
	visPath := filepath.Join(dir, "visualizations-3.zip")
	require.NoError(t, s.DownloadVisualizations(context.Background(), visPath))
	assert.Equal(t, "Visualizations download failed.\n", out.String())
	assert.NoFileExists(t, visPath)
}
