package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ApplyEnvOverrides OVERLAYS ENVIRONMENT VARIABLES ONTO A LOADED CONFIG, MIRRORING THE
// -port FLAG OVERRIDE THE TEACHER'S cmd/Crepes/main.go ALREADY PERFORMS
func ApplyEnvOverrides(c *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("DATABASE_ECHO"); v != "" {
		c.DatabaseEcho = v == "1" || v == "true"
	}
	if v := os.Getenv("SCRAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			c.DefaultIntervalSeconds = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
}

// BootstrapJob IS ONE ENTRY OF THE SCRAPER_JOBS ENVIRONMENT ARRAY, BEFORE VALIDATION
type BootstrapJob struct {
	Name            string   `json:"name"`
	Query           string   `json:"query"`
	Location        string   `json:"location"`
	Radius          *float64 `json:"radius"`
	MinPrice        *float64 `json:"min_price"`
	MaxPrice        *float64 `json:"max_price"`
	PageCount       *int     `json:"page_count"`
	IntervalSeconds *int     `json:"interval_seconds"`
	Interval        *int     `json:"interval"`
	IsActive        *bool    `json:"is_active"`
}

// LoadBootstrapJobs PARSES THE SCRAPER_JOBS ENV VAR (A JSON ARRAY) INTO VALIDATED BOOTSTRAP
// JOBS, SKIPPING INVALID ENTRIES WITH A LOGGED WARNING. GROUNDED IN
// services/scheduler.py::load_job_configs.
func LoadBootstrapJobs(raw string, defaultInterval int, warn func(string)) []BootstrapJob {
	if raw == "" {
		raw = "[]"
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		warn(fmt.Sprintf("SCRAPER_JOBS is not a valid JSON array: %v", err))
		return nil
	}

	jobs := make([]BootstrapJob, 0, len(entries))
	for i, raw := range entries {
		var item BootstrapJob
		if err := json.Unmarshal(raw, &item); err != nil {
			warn(fmt.Sprintf("SCRAPER_JOBS[%d] is not a valid job object: %v", i, err))
			continue
		}
		if item.Name == "" {
			if item.Query != "" {
				item.Name = item.Query
			} else {
				item.Name = fmt.Sprintf("job-%d", i)
			}
		}

		interval := defaultInterval
		switch {
		case item.IntervalSeconds != nil && *item.IntervalSeconds > 0:
			interval = *item.IntervalSeconds
		case item.Interval != nil && *item.Interval > 0:
			interval = *item.Interval
		case (item.IntervalSeconds != nil && *item.IntervalSeconds <= 0) || (item.Interval != nil && *item.Interval <= 0):
			warn(fmt.Sprintf("SCRAPER_JOBS[%d] (%s) has a non-positive interval, falling back to default %ds", i, item.Name, defaultInterval))
		}
		resolved := interval
		item.IntervalSeconds = &resolved

		pageCount := 1
		if item.PageCount != nil && *item.PageCount > 0 {
			pageCount = *item.PageCount
		}
		item.PageCount = &pageCount

		active := true
		if item.IsActive != nil {
			active = *item.IsActive
		}
		item.IsActive = &active

		jobs = append(jobs, item)
	}
	return jobs
}
