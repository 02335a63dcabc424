package influxdb

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// telemetryMeasurement is the measurement name for decoded readings.
const telemetryMeasurement = "victron"

// delta mirrors the worker's output document: a list of updates, each
// carrying a source descriptor, a timestamp, and path/value readings.
type delta struct {
	Updates []deltaUpdate `json:"updates"`
}

type deltaUpdate struct {
	Source    deltaSource  `json:"source"`
	Timestamp string       `json:"timestamp"`
	Values    []deltaValue `json:"values"`
}

type deltaSource struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	Src   string `json:"src"`
}

type deltaValue struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Record decomposes one telemetry delta into points and queues them for
// writing. Payloads that do not parse as a delta are dropped silently;
// the relay path has already validated and forwarded the raw line, so
// history storage stays best-effort.
//
// Implements the supervisor's Recorder interface. Non-blocking.
func (c *Client) Record(payload []byte) {
	if !c.IsConnected() {
		return
	}

	var d delta
	if err := json.Unmarshal(payload, &d); err != nil {
		return
	}

	for _, p := range deltaPoints(d, time.Now()) {
		c.writeAPI.WritePoint(p)
	}
}

// deltaPoints converts a parsed delta into write points, one per reading.
// Numeric readings land in the "value" field; textual readings (charge
// state names and the like) land in "state". Readings of any other JSON
// type are skipped. A missing or unparsable timestamp falls back to now.
func deltaPoints(d delta, now time.Time) []*write.Point {
	var points []*write.Point

	for _, u := range d.Updates {
		ts := now
		if u.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, u.Timestamp); err == nil {
				ts = parsed
			}
		}

		tags := map[string]string{}
		if u.Source.Src != "" {
			tags["source"] = u.Source.Src
		}

		for _, v := range u.Values {
			if v.Path == "" {
				continue
			}
			// Unmarshal treats null as a no-op success, so screen it out
			// before the type probes below.
			raw := bytes.TrimSpace(v.Value)
			if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
				continue
			}

			fields := map[string]interface{}{}

			var num float64
			var str string
			switch {
			case json.Unmarshal(v.Value, &num) == nil:
				fields["value"] = num
			case json.Unmarshal(v.Value, &str) == nil:
				fields["state"] = str
			default:
				continue
			}

			pointTags := map[string]string{"path": v.Path}
			for k, tv := range tags {
				pointTags[k] = tv
			}

			points = append(points, write.NewPoint(telemetryMeasurement, pointTags, fields, ts))
		}
	}

	return points
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
