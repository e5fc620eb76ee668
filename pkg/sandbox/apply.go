package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstogner/forge/pkg/action"
)

// Outcome is the result of dispatching one segment.
type Outcome struct {
	Segment action.Segment `json:"segment"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Failed reports whether the segment could not be applied.
func (o Outcome) Failed() bool { return o.Error != "" }

// Apply dispatches the actionable segments to the project's sandbox in
// order. Markdown and thinking segments are skipped. Dispatch stops at the
// first failure since later actions usually depend on earlier ones.
func Apply(ctx context.Context, mgr Manager, projectID string, segs []action.Segment) []Outcome {
	var outcomes []Outcome
	for _, seg := range segs {
		if !seg.Actionable() {
			continue
		}
		out, err := applySegment(ctx, mgr, projectID, seg)
		o := Outcome{Segment: seg, Output: out}
		if err != nil {
			slog.Warn("Failed to apply action", "projectID", projectID, "kind", seg.Kind, "path", seg.Path, "error", err)
			o.Error = err.Error()
		}
		outcomes = append(outcomes, o)
		if err != nil {
			break
		}
	}
	return outcomes
}

func applySegment(ctx context.Context, mgr Manager, projectID string, seg action.Segment) (string, error) {
	switch seg.Kind {
	case action.KindShell:
		res, err := mgr.Exec(ctx, projectID, seg.Content)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return res.Output, fmt.Errorf("command exited with code %d", res.ExitCode)
		}
		return res.Output, nil

	case action.KindFile:
		content := seg.Content
		if content != "" {
			content += "\n"
		}
		if err := mgr.WriteFile(ctx, projectID, seg.Path, []byte(content)); err != nil {
			return "", fmt.Errorf("writing %s: %w", seg.Path, err)
		}
		return "", nil

	case action.KindDiff:
		current, err := mgr.ReadFile(ctx, projectID, seg.Path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", seg.Path, err)
		}
		patched, err := Patch(string(current), seg.Content)
		if err != nil {
			return "", fmt.Errorf("patching %s: %w", seg.Path, err)
		}
		if err := mgr.WriteFile(ctx, projectID, seg.Path, []byte(patched)); err != nil {
			return "", fmt.Errorf("writing %s: %w", seg.Path, err)
		}
		return "", nil
	}
	return "", fmt.Errorf("unsupported action kind %q", seg.Kind)
}
