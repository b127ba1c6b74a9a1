package upstream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// Result is a decoded provider search.
type Result struct {
	// RequestID is the provider's request identifier, if any.
	RequestID string

	// Jobs are the normalized records, in provider order.
	Jobs []jobs.Job

	// Skipped counts records dropped for missing identifiers or bad shape.
	Skipped int
}

// wireJob is the subset of the provider's job record that is kept.
type wireJob struct {
	JobID                  string   `json:"job_id"`
	JobTitle               string   `json:"job_title"`
	EmployerName           string   `json:"employer_name"`
	EmployerLogo           string   `json:"employer_logo"`
	JobCity                string   `json:"job_city"`
	JobState               string   `json:"job_state"`
	JobCountry             string   `json:"job_country"`
	JobIsRemote            bool     `json:"job_is_remote"`
	JobEmploymentType      string   `json:"job_employment_type"`
	JobDescription         string   `json:"job_description"`
	JobApplyLink           string   `json:"job_apply_link"`
	JobPostedAtTimestamp   *int64   `json:"job_posted_at_timestamp"`
	JobPostedAtDatetimeUTC string   `json:"job_posted_at_datetime_utc"`
	JobMinSalary           *float64 `json:"job_min_salary"`
	JobMaxSalary           *float64 `json:"job_max_salary"`
	JobSalaryCurrency      string   `json:"job_salary_currency"`
	JobSalaryPeriod        string   `json:"job_salary_period"`
}

// decodeSearch parses a 2xx provider body. A body that is not JSON or carries
// an error envelope yields a ProviderError; an OK envelope without a data
// array is an empty result.
func decodeSearch(body []byte, status int, logger zerolog.Logger) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ProviderError{
			StatusCode: status,
			Class:      ErrorClassDecode,
			Message:    "response body is not valid JSON",
		}
	}

	root := gjson.ParseBytes(body)
	if msg := envelopeError(root); msg != "" {
		return nil, &ProviderError{
			StatusCode: status,
			Class:      ErrorClassProvider,
			Message:    msg,
		}
	}

	result := &Result{RequestID: root.Get("request_id").String()}

	data := root.Get("data")
	if !data.IsArray() {
		logger.Warn().
			Str("request_id", result.RequestID).
			Str("data_type", data.Type.String()).
			Msg("Provider response has no data array, treating as empty")
		return result, nil
	}

	data.ForEach(func(_, value gjson.Result) bool {
		var w wireJob
		if err := json.Unmarshal([]byte(value.Raw), &w); err != nil {
			result.Skipped++
			logger.Warn().Err(err).Msg("Skipping malformed provider record")
			return true
		}
		if strings.TrimSpace(w.JobID) == "" {
			result.Skipped++
			logger.Warn().
				Str("title", w.JobTitle).
				Msg("Skipping provider record without job_id")
			return true
		}
		result.Jobs = append(result.Jobs, w.toJob())
		return true
	})

	return result, nil
}

// envelopeError extracts a provider-reported error, or "" when the envelope
// is OK.
func envelopeError(root gjson.Result) string {
	if errVal := root.Get("error"); errVal.Exists() && errVal.Type != gjson.Null {
		if msg := errVal.Get("message").String(); msg != "" {
			return msg
		}
		return errVal.String()
	}

	status := root.Get("status")
	if status.Exists() {
		if !strings.EqualFold(status.String(), "OK") {
			return "provider status " + status.String()
		}
		return ""
	}

	// Gateway errors carry only a message.
	if msg := root.Get("message"); msg.Exists() && !root.Get("data").Exists() {
		return msg.String()
	}
	return ""
}

// errorMessage picks a human-readable message from a non-2xx body.
func errorMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	for _, path := range []string{"message", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}

func (w wireJob) toJob() jobs.Job {
	j := jobs.Job{
		ID:             w.JobID,
		Title:          strings.TrimSpace(w.JobTitle),
		Company:        strings.TrimSpace(w.EmployerName),
		CompanyLogo:    w.EmployerLogo,
		City:           w.JobCity,
		State:          w.JobState,
		Country:        w.JobCountry,
		Remote:         w.JobIsRemote,
		EmploymentType: strings.ToUpper(w.JobEmploymentType),
		Description:    w.JobDescription,
		ApplyLink:      w.JobApplyLink,
		SalaryMin:      w.JobMinSalary,
		SalaryMax:      w.JobMaxSalary,
		SalaryCurrency: w.JobSalaryCurrency,
		SalaryPeriod:   w.JobSalaryPeriod,
		Source:         jobs.SourceUpstream,
	}
	j.Location = joinLocation(w.JobCity, w.JobState, w.JobCountry)
	if j.Location == "" && j.Remote {
		j.Location = "Remote"
	}

	switch {
	case w.JobPostedAtTimestamp != nil && *w.JobPostedAtTimestamp > 0:
		t := time.Unix(*w.JobPostedAtTimestamp, 0).UTC()
		j.PostedAt = &t
	case w.JobPostedAtDatetimeUTC != "":
		if t, err := time.Parse(time.RFC3339, w.JobPostedAtDatetimeUTC); err == nil {
			t = t.UTC()
			j.PostedAt = &t
		}
	}
	return j
}

func joinLocation(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
