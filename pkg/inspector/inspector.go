// Package inspector computes parameter and memory statistics of a Hub model
// from its safetensors headers alone.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docker/model-mem/pkg/hub"
	"github.com/docker/model-mem/pkg/layout"
	"github.com/docker/model-mem/pkg/logging"
	"github.com/docker/model-mem/pkg/safetensors"
)

// ErrInvalidModelID is returned for model IDs that cannot name a repository.
var ErrInvalidModelID = errors.New("invalid model ID")

// Report is the result of inspecting one model revision. It marshals to
// {"model_id", "revision", "components", "param_count", "bytes_count"}.
type Report struct {
	ModelID  string      `json:"model_id"`
	Revision string      `json:"revision"`
	Layout   layout.Kind `json:"-"`
	*safetensors.Stats
}

// JSON returns the indented JSON export of the report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Inspector resolves and aggregates model statistics through a Hub client.
type Inspector struct {
	client *hub.Client
	log    *logrus.Entry
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger
func WithLogger(log logging.Logger) Option {
	return func(i *Inspector) {
		if log != nil {
			i.log = log.WithField("component", "inspector")
		}
	}
}

// New returns an Inspector using client.
func New(client *hub.Client, opts ...Option) *Inspector {
	i := &Inspector{
		client: client,
		log:    logrus.NewEntry(logrus.StandardLogger()).WithField("component", "inspector"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ValidateModelID checks that id looks like a Hub repository ID.
func ValidateModelID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	if strings.ContainsAny(id, " \t\r\n?#") || strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") ||
		strings.Count(id, "/") > 1 || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	return nil
}

// Inspect lists the repository, resolves its layout, fetches the needed
// headers and aggregates them. An empty revision means the client default.
func (i *Inspector) Inspect(ctx context.Context, modelID, revision string) (*Report, error) {
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}

	start := time.Now()
	repo := i.client.Repo(modelID, revision)
	log := i.log.WithFields(logrus.Fields{
		"model":    logging.SanitizeForLog(modelID),
		"revision": logging.SanitizeForLog(repo.Revision()),
	})

	files, err := repo.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	report, err := inspect(ctx, repo, files, log)
	if err != nil {
		return nil, err
	}
	report.ModelID = modelID
	report.Revision = repo.Revision()

	log.WithFields(logrus.Fields{
		"layout":     report.Layout,
		"components": report.Components.Len(),
		"params":     report.ParamCount,
		"duration":   time.Since(start),
	}).Debug("Inspected model")
	return report, nil
}

// InspectDir computes the statistics of a model stored in a local directory.
// The report's model ID is the directory path and its revision is empty.
func (i *Inspector) InspectDir(ctx context.Context, root string) (*Report, error) {
	dir := layout.Dir{Root: root}
	files, err := dir.ListFiles()
	if err != nil {
		return nil, err
	}

	report, err := inspect(ctx, dir, files, i.log.WithField("dir", logging.SanitizeForLog(root)))
	if err != nil {
		return nil, err
	}
	report.ModelID = root
	return report, nil
}

func inspect(ctx context.Context, f layout.Fetcher, files []string, log *logrus.Entry) (*Report, error) {
	l, err := layout.Detect(files)
	if err != nil {
		return nil, err
	}

	components, err := layout.NewResolver(f, layout.WithLogger(log)).ResolveLayout(ctx, l)
	if err != nil {
		return nil, err
	}

	stats, err := safetensors.Aggregate(components)
	if err != nil {
		return nil, err
	}
	return &Report{Layout: l.Kind(), Stats: stats}, nil
}
