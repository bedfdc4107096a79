package zone

import (
	"strings"

	"github.com/sells-group/zonestats/internal/model"
)

// Classifier resolves location text to a canonical zone using an ordered
// keyword table. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	table Table
	zones []string
}

// NewClassifier creates a Classifier over t. Keywords in t are expected to
// be normalized already (see NewTable); DefaultTable is.
func NewClassifier(t Table) *Classifier {
	return &Classifier{table: t, zones: t.Zones()}
}

var defaultClassifier = NewClassifier(DefaultTable())

// Classify resolves location with the default Timisoara table.
func Classify(location string) string {
	return defaultClassifier.Classify(location)
}

// Classify returns the zone of the first table entry whose keyword occurs in
// the normalized location, or model.UnknownZone when nothing matches.
func (c *Classifier) Classify(location string) string {
	text := Normalize(location)
	if strings.TrimSpace(text) == "" {
		return model.UnknownZone
	}
	for _, e := range c.table {
		if strings.Contains(text, e.Keyword) {
			return e.Zone
		}
	}
	return model.UnknownZone
}

// Zones returns the known zone set in declaration order.
func (c *Classifier) Zones() []string {
	out := make([]string, len(c.zones))
	copy(out, c.zones)
	return out
}

// Table returns a copy of the classifier's keyword table.
func (c *Classifier) Table() Table {
	out := make(Table, len(c.table))
	copy(out, c.table)
	return out
}
