package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Record is an event as served by /events/latest
type Record struct {
	Type         string `json:"type"`
	DeviceID     string `json:"device_id,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
	Severity     string `json:"severity"`
	Name         string `json:"name,omitempty"`
	Status       string `json:"status,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Time         string `json:"time"` // RFC3339
}

type latestQuery struct {
	Type      string
	DeviceID  string
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseLatest(r *http.Request, defMin, defLim, defTOms int) latestQuery {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return latestQuery{
		Type:      strings.TrimSpace(q.Get("type")),
		DeviceID:  strings.TrimSpace(q.Get("device")),
		Minutes:   get("minutes", defMin, 1, 30*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildFlux(bucket string, p latestQuery) string {
	var filters strings.Builder
	if p.Type != "" {
		fmt.Fprintf(&filters, "\n  |> filter(fn: (r) => strings.hasPrefix(v: r.event_type, prefix: %q))", p.Type)
	}
	if p.DeviceID != "" {
		fmt.Fprintf(&filters, "\n  |> filter(fn: (r) => r.device_id == %q)", p.DeviceID)
	}
	return fmt.Sprintf(`import "strings"
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)%s
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, p.Minutes, Measurement, filters.String(), p.Limit)
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func runLatest(w http.ResponseWriter, r *http.Request, query api.QueryAPI, bucket string) {
	p := parseLatest(r, 1440, 20, 2000)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	res, err := query.Query(ctx, buildFlux(bucket, p))
	if err != nil {
		w.Header().Set("X-Error", "influx-query-error")
		_, _ = w.Write([]byte("[]"))
		return
	}
	defer res.Close()

	out := make([]Record, 0, p.Limit)
	for res.Next() {
		rec := res.Record()
		out = append(out, Record{
			Type:         str(rec.ValueByKey("event_type")),
			DeviceID:     str(rec.ValueByKey("device_id")),
			ExperimentID: str(rec.ValueByKey("experiment_id")),
			Severity:     str(rec.ValueByKey("severity")),
			Name:         str(rec.ValueByKey("name")),
			Status:       str(rec.ValueByKey("status")),
			Reason:       str(rec.ValueByKey("reason")),
			Time:         rec.Time().UTC().Format(time.RFC3339),
		})
	}
	if res.Err() != nil {
		w.Header().Set("X-Error", "influx-iter-error")
	}
	_ = json.NewEncoder(w).Encode(out)
}

// NewLatestHandler serves GET /events/latest?type=experiment&device=esp32&limit=20[&minutes=1440]
func NewLatestHandler(query api.QueryAPI, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runLatest(w, r, query, bucket)
	})
}
