// Package zone maps free-text listing locations onto a closed set of zones
// and persists the result through a batch update pass.
package zone

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Canonical zone names of the default Timisoara table. These are also the
// "text" property values of the zone polygons.
const (
	ZoneCetatii           = "Timisoara, zona Cetatii"
	ZoneTelegrafului      = "Timisoara, zona Telegrafului"
	ZoneDorobantilor      = "Timisoara, zona Dorobantilor"
	ZoneLipovei           = "Timisoara, zona Lipovei"
	ZoneAradului          = "Timisoara, zona Aradului"
	ZoneElisabetin        = "Timisoara, zona Elisabetin"
	ZoneIosefin           = "Timisoara, zona Iosefin"
	ZoneBlascovici        = "Timisoara, zona Blascovici"
	ZoneTorontalului      = "Timisoara, zona Torontalului"
	ZoneFabric            = "Timisoara, zona Fabric"
	ZoneComplexStudentesc = "Timisoara, zona Complex Studentesc"
)

// Entry maps a normalized keyword to its canonical zone.
type Entry struct {
	Keyword string
	Zone    string
}

// Table is an ordered keyword table. When several keywords occur in the same
// text, the entry declared first wins.
type Table []Entry

// defaultEntries is the Timisoara keyword table. Order is significant.
var defaultEntries = Table{
	// Historical center.
	{"cetate", ZoneCetatii},
	{"cetatea", ZoneCetatii},
	{"cetatii", ZoneCetatii},
	{"bulevardul mihai eminescu", ZoneCetatii},
	{"stadion", ZoneCetatii},

	{"telegraf", ZoneTelegrafului},
	{"telegrafului", ZoneTelegrafului},

	// Also Circumvalatiunii, Odobescu, Fratelia, Dambovita, Steaua,
	// Bucovina and Zona Soarelui.
	{"dorobant", ZoneDorobantilor},
	{"dorobantilor", ZoneDorobantilor},
	{"circumval", ZoneDorobantilor},
	{"odobescu", ZoneDorobantilor},
	{"fratelia", ZoneDorobantilor},
	{"dambovit", ZoneDorobantilor},
	{"steaua", ZoneDorobantilor},
	{"bucovin", ZoneDorobantilor},
	{"zona soarelui", ZoneDorobantilor},

	{"lipovei", ZoneLipovei},
	{"lipova", ZoneLipovei},
	{"calea sever bocu", ZoneLipovei},
	{"calea buziasului", ZoneLipovei},

	{"arad", ZoneAradului},
	{"aradului", ZoneAradului},
	{"kogalnic", ZoneAradului},
	{"badea cartan", ZoneAradului},

	{"elisabet", ZoneElisabetin},
	{"elisabetin", ZoneElisabetin},

	{"iosefin", ZoneIosefin},
	{"calea girocului", ZoneIosefin},
	{"tipograf", ZoneIosefin},
	{"crisan", ZoneIosefin},
	{"ciarda ros", ZoneIosefin},
	{"giroc", ZoneIosefin},

	{"blascovic", ZoneBlascovici},
	{"blascovici", ZoneBlascovici},

	{"torontal", ZoneTorontalului},
	{"torontalului", ZoneTorontalului},
	{"plavat", ZoneTorontalului},

	{"fabric", ZoneFabric},
	{"calea sagului", ZoneFabric},
	{"padurea verde", ZoneFabric},

	{"student", ZoneComplexStudentesc},
	{"studentesc", ZoneComplexStudentesc},
	{"campus", ZoneComplexStudentesc},
	{"complex", ZoneComplexStudentesc},
	{"lunei", ZoneComplexStudentesc},
	{"mehala", ZoneComplexStudentesc},
	{"mosnita noua", ZoneComplexStudentesc},
}

// DefaultTable returns a copy of the built-in Timisoara table.
func DefaultTable() Table {
	out := make(Table, len(defaultEntries))
	copy(out, defaultEntries)
	return out
}

// NewTable builds a table from entries, normalizing every keyword. Blank
// keywords or zones are rejected; a repeated keyword keeps its first
// declaration.
func NewTable(entries []Entry) (Table, error) {
	seen := make(map[string]bool, len(entries))
	out := make(Table, 0, len(entries))
	for i, e := range entries {
		kw := strings.TrimSpace(Normalize(e.Keyword))
		z := strings.TrimSpace(e.Zone)
		if kw == "" {
			return nil, eris.Errorf("zone: entry %d has an empty keyword", i)
		}
		if z == "" {
			return nil, eris.Errorf("zone: keyword %q has an empty zone", e.Keyword)
		}
		if seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, Entry{Keyword: kw, Zone: z})
	}
	if len(out) == 0 {
		return nil, eris.New("zone: keyword table is empty")
	}
	return out, nil
}

// Zones returns the distinct canonical zones in first declaration order.
func (t Table) Zones() []string {
	seen := make(map[string]bool)
	var zones []string
	for _, e := range t {
		if !seen[e.Zone] {
			seen[e.Zone] = true
			zones = append(zones, e.Zone)
		}
	}
	return zones
}

// tableFile is the on-disk layout of a keyword table. Zones and their
// keywords are both YAML sequences so declaration order survives decoding.
type tableFile struct {
	Zones []struct {
		Zone     string   `yaml:"zone"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"zones"`
}

// LoadTable reads a keyword table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zone: read keywords %s", path)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML keyword table.
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "zone: parse keywords")
	}

	var entries []Entry
	for _, z := range f.Zones {
		for _, kw := range z.Keywords {
			entries = append(entries, Entry{Keyword: kw, Zone: z.Zone})
		}
	}
	return NewTable(entries)
}
