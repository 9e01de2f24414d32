package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// Report formats.
const (
	ReportFormatJSON = "json"
	ReportFormatYAML = "yaml"
)

// ReportError is the fatal error of a failed run.
type ReportError struct {
	Class      ErrorClass `json:"class" yaml:"class"`
	Phase      Phase      `json:"phase" yaml:"phase"`
	Code       string     `json:"code,omitempty" yaml:"code,omitempty"`
	HTTPStatus int        `json:"http_status,omitempty" yaml:"http_status,omitempty"`
	Message    string     `json:"message" yaml:"message"`
}

// Report is the record of one run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	DryRun     bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Duration   string    `json:"duration" yaml:"duration"`

	Outcome Outcome      `json:"outcome" yaml:"outcome"`
	Error   *ReportError `json:"error,omitempty" yaml:"error,omitempty"`

	Exclusions  []Exclusion   `json:"exclusions" yaml:"exclusions"`
	Apps        []AppInstance `json:"apps" yaml:"apps"`
	AppsSkipped bool          `json:"apps_skipped,omitempty" yaml:"apps_skipped,omitempty"`

	Attempts  int             `json:"attempts" yaml:"attempts"`
	Rounds    int             `json:"rounds" yaml:"rounds"`
	Remaining []string        `json:"remaining" yaml:"remaining"`
	Commands  []CommandRecord `json:"commands" yaml:"commands"`

	Events []telemetry.Event `json:"events" yaml:"events"`
}

// Escalated reports whether the run ended with guest VMs forced off.
func (r *Report) Escalated() bool {
	return r != nil && r.Outcome == OutcomeEscalated
}

func (r *Report) setError(err error) {
	if err == nil {
		return
	}
	re := &ReportError{Class: Classify(err, ErrorClassCommand), Message: err.Error()}
	var runErr *RunError
	if errors.As(err, &runErr) {
		re.Phase = runErr.Phase
		re.Code = runErr.Code
		if status, ok := runErr.Details["http_status"].(int); ok {
			re.HTTPStatus = status
		}
	}
	r.Error = re
}

// Encode renders the report as JSON or YAML.
func (r *Report) Encode(format string) ([]byte, error) {
	switch format {
	case "", ReportFormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		return append(data, '\n'), nil
	case ReportFormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// Write encodes the report to path, creating parent directories.
func (r *Report) Write(path, format string) error {
	data, err := r.Encode(format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Upload places the encoded report on the cluster at remotePath.
func (r *Report) Upload(ctx context.Context, up remote.Uploader, remotePath, format string) error {
	data, err := r.Encode(format)
	if err != nil {
		return err
	}
	if err := up.Upload(ctx, data, remotePath); err != nil {
		return wrapError(PhaseReport, "failed to upload report", err, ErrorClassTransport).
			WithDetail("remote_path", remotePath)
	}
	return nil
}
