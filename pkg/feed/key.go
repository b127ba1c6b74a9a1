package feed

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// KeyNamespace is the first segment of every search cache key.
const KeyNamespace = "jobs"

// CacheKey returns the deterministic cache key for a search. Equivalent
// searches share a key because the params are normalized first.
// Format: jobs:q=<query>:loc=<location>:types=<A,B>:remote=<0|1>:date=<filter>:page=<n>:pages=<n>
//
// Example:
//
//	jobs:q=software+developer:loc=berlin:types=FULLTIME:remote=0:date=all:page=1:pages=1
func CacheKey(p jobs.SearchParams) string {
	p = p.Normalize()
	remote := "0"
	if p.Remote {
		remote = "1"
	}

	parts := []string{
		KeyNamespace,
		"q=" + url.QueryEscape(p.Query),
		"loc=" + url.QueryEscape(p.Location),
		"types=" + strings.Join(p.EmploymentTypes, ","),
		"remote=" + remote,
		"date=" + p.DatePosted,
		"page=" + strconv.Itoa(p.Page),
		"pages=" + strconv.Itoa(p.NumPages),
	}
	return strings.Join(parts, ":")
}

// QueryPrefix returns the key prefix shared by every cached variant of a
// query (all locations, filters and pages), for targeted purges.
func QueryPrefix(query string) string {
	q := jobs.SearchParams{Query: query}.Normalize().Query
	return KeyNamespace + ":q=" + url.QueryEscape(q) + ":"
}
