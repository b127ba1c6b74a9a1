package feed

import "github.com/Sternrassler/jobfeed-client/pkg/jobs"

// mergeOverlay puts featured admin listings first, then the other admin
// listings, then upstream records. The first occurrence of an ID wins.
func mergeOverlay(admin, upstream []jobs.Job) []jobs.Job {
	out := make([]jobs.Job, 0, len(admin)+len(upstream))
	seen := make(map[string]struct{}, len(admin)+len(upstream))

	add := func(j jobs.Job) {
		if j.ID != "" {
			if _, dup := seen[j.ID]; dup {
				return
			}
			seen[j.ID] = struct{}{}
		}
		out = append(out, j)
	}

	for _, j := range admin {
		if j.Featured {
			add(j)
		}
	}
	for _, j := range admin {
		if !j.Featured {
			add(j)
		}
	}
	for _, j := range upstream {
		add(j)
	}
	return out
}
