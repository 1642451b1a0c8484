package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/webpilot/webpilot/internal/browser"
)

// ActionRecord is one scripted step noted in a per-instance result.
type ActionRecord struct {
	Action     string `json:"action"`
	Query      string `json:"query,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Result is the outcome of the scripted flow against one Chrome
// instance.
type Result struct {
	Port        int               `json:"port"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Status      string            `json:"status"`
	Actions     []ActionRecord    `json:"actions"`
	Screenshots []string          `json:"screenshots"`
	Error       string            `json:"error,omitempty"`
	PageInfo    *browser.PageInfo `json:"page_info,omitempty"`
}

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Summary aggregates a run.
type Summary struct {
	TotalInstances      int       `json:"total_instances"`
	SuccessfulInstances int       `json:"successful_instances"`
	FailedInstances     int       `json:"failed_instances"`
	StartTime           time.Time `json:"start_time"`
}

// Report is the JSON document written at the end of every run.
type Report struct {
	TaskSummary     Summary  `json:"task_summary"`
	DetailedResults []Result `json:"detailed_results"`
}

// BuildReport assembles the report document from per-instance results.
// A run that reached no instance still yields a report with zero
// counts.
func BuildReport(startTime time.Time, results []Result) Report {
	summary := Summary{
		TotalInstances: len(results),
		StartTime:      startTime,
	}
	for _, r := range results {
		if r.Status == statusSuccess {
			summary.SuccessfulInstances++
		} else {
			summary.FailedInstances++
		}
	}
	if results == nil {
		results = []Result{}
	}
	return Report{TaskSummary: summary, DetailedResults: results}
}

// WriteReport persists a report to dir under a timestamped name and
// returns the full path.
func WriteReport(dir string, report Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	name := fmt.Sprintf("automation_report_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
