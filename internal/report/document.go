package report

import (
	"time"
)

// Section is a titled block of report text.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Document is the in-memory report. Sections keep the order in which their
// titles were first added; re-adding a title replaces the body in place.
type Document struct {
	Title     string             `json:"title"`
	Metadata  map[string]string  `json:"metadata"`
	Sections  []Section          `json:"sections"`
	Charts    []string           `json:"charts"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// Section returns the body of the section with title.
func (d Document) Section(title string) (string, bool) {
	for _, s := range d.Sections {
		if s.Title == title {
			return s.Body, true
		}
	}
	return "", false
}

func (d *Document) upsert(s Section) {
	for i := range d.Sections {
		if d.Sections[i].Title == s.Title {
			d.Sections[i].Body = s.Body
			return
		}
	}
	d.Sections = append(d.Sections, s)
}

// clone returns a deep copy so exporters never share state with the builder.
func (d Document) clone() Document {
	out := d
	out.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	out.Sections = append([]Section(nil), d.Sections...)
	out.Charts = append([]string(nil), d.Charts...)
	out.Metrics = make(map[string]float64, len(d.Metrics))
	for k, v := range d.Metrics {
		out.Metrics[k] = v
	}
	return out
}
