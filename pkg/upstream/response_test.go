package upstream

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

func TestDecodeSearch(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantClass ErrorClass
		wantJobs  int
		wantSkip  int
	}{
		{
			name:     "ok envelope",
			body:     `{"status":"OK","request_id":"r1","data":[{"job_id":"a","job_title":"Go Dev"},{"job_id":"b","job_title":"SRE"}]}`,
			wantJobs: 2,
		},
		{
			name:     "records without id are skipped",
			body:     `{"status":"OK","data":[{"job_id":"a"},{"job_title":"no id"},{"job_id":"  "}]}`,
			wantJobs: 1,
			wantSkip: 2,
		},
		{
			name:     "malformed record is skipped",
			body:     `{"status":"OK","data":[{"job_id":"a"},{"job_id":42}]}`,
			wantJobs: 1,
			wantSkip: 1,
		},
		{
			name:     "data not an array is empty",
			body:     `{"status":"OK","data":{"unexpected":true}}`,
			wantJobs: 0,
		},
		{
			name:     "missing data is empty",
			body:     `{"status":"OK"}`,
			wantJobs: 0,
		},
		{
			name:      "error status",
			body:      `{"status":"ERROR","error":{"message":"bad query","code":400}}`,
			wantClass: ErrorClassProvider,
		},
		{
			name:      "non ok status without error object",
			body:      `{"status":"FAILED","data":[]}`,
			wantClass: ErrorClassProvider,
		},
		{
			name:      "gateway message only",
			body:      `{"message":"You are not subscribed to this API."}`,
			wantClass: ErrorClassProvider,
		},
		{
			name:      "not json",
			body:      `<html>gateway timeout</html>`,
			wantClass: ErrorClassDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeSearch([]byte(tt.body), 200, zerolog.Nop())
			if tt.wantClass != "" {
				if got := ClassOf(err); got != tt.wantClass {
					t.Fatalf("ClassOf(err) = %q, want %q (err=%v)", got, tt.wantClass, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Jobs) != tt.wantJobs {
				t.Errorf("len(Jobs) = %d, want %d", len(result.Jobs), tt.wantJobs)
			}
			if result.Skipped != tt.wantSkip {
				t.Errorf("Skipped = %d, want %d", result.Skipped, tt.wantSkip)
			}
		})
	}
}

func TestWireJob_ToJob(t *testing.T) {
	ts := int64(1760000000)
	minSalary := 60000.0
	w := wireJob{
		JobID:                "abc",
		JobTitle:             "  Backend Engineer ",
		EmployerName:         "Acme",
		JobCity:              "Berlin",
		JobCountry:           "DE",
		JobEmploymentType:    "fulltime",
		JobPostedAtTimestamp: &ts,
		JobMinSalary:         &minSalary,
	}

	j := w.toJob()
	if j.Title != "Backend Engineer" {
		t.Errorf("Title = %q", j.Title)
	}
	if j.Location != "Berlin, DE" {
		t.Errorf("Location = %q, want %q", j.Location, "Berlin, DE")
	}
	if j.EmploymentType != "FULLTIME" {
		t.Errorf("EmploymentType = %q", j.EmploymentType)
	}
	if j.Source != jobs.SourceUpstream || j.Featured {
		t.Errorf("Source = %q Featured = %v", j.Source, j.Featured)
	}
	if j.PostedAt == nil || !j.PostedAt.Equal(time.Unix(ts, 0)) {
		t.Errorf("PostedAt = %v", j.PostedAt)
	}
	if j.SalaryMin == nil || *j.SalaryMin != minSalary {
		t.Errorf("SalaryMin = %v", j.SalaryMin)
	}
}

func TestWireJob_ToJob_RemoteAndDatetime(t *testing.T) {
	w := wireJob{
		JobID:                  "r",
		JobIsRemote:            true,
		JobPostedAtDatetimeUTC: "2026-10-01T08:00:00.000Z",
	}

	j := w.toJob()
	if j.Location != "Remote" {
		t.Errorf("Location = %q, want Remote", j.Location)
	}
	want := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	if j.PostedAt == nil || !j.PostedAt.Equal(want) {
		t.Errorf("PostedAt = %v, want %v", j.PostedAt, want)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"quota"}`, "quota"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{`{"error":"flat"}`, "flat"},
		{`{"other":1}`, "500 Internal Server Error"},
		{`not json`, "500 Internal Server Error"},
	}

	for _, tt := range tests {
		if got := errorMessage([]byte(tt.body), "500 Internal Server Error"); got != tt.want {
			t.Errorf("errorMessage(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
