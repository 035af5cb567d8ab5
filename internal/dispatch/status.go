package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Masterminds/semver/v3"
)

const DefaultStatusPath = "/api/mtk/status"

// BackendStatus is the tool installation report of the backend.
type BackendStatus struct {
	Installed bool   `json:"installed"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status fetches the backend status report.
func (d *Dispatcher) Status(ctx context.Context, path string) (BackendStatus, error) {
	if path == "" {
		path = DefaultStatusPath
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+path, nil)
	if err != nil {
		return BackendStatus{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return BackendStatus{}, err
	}
	defer resp.Body.Close()

	var out BackendStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BackendStatus{}, fmt.Errorf("decode status: %w", err)
	}
	if resp.StatusCode >= 400 && out.Error == "" {
		out.Error = fmt.Sprintf("request failed with status code %d", resp.StatusCode)
	}
	return out, nil
}

// CheckVersion reports whether the backend's tool version satisfies the
// constraint. An empty constraint accepts everything.
func CheckVersion(status BackendStatus, constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	if status.Version == "" {
		return fmt.Errorf("backend did not report a version")
	}
	v, err := semver.NewVersion(status.Version)
	if err != nil {
		return fmt.Errorf("backend version %q: %w", status.Version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("backend version %s does not satisfy %s", v, constraint)
	}
	return nil
}
