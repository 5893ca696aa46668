// Package locations maps an image to the crossing it was taken at, and to the
// regions of interest that we have configured for that crossing.
package locations

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/roi"
)

// LocationKey derives the location key from an image identifier such as "North_Gate_eastbound_3.jpg".
// The extension and the trailing "_<sequence>" segment are dropped, and the remainder is lowercased,
// so the example becomes "north_gate_eastbound".
// An identifier with no underscore is lowercased as a whole.
func LocationKey(imageID string) string {
	name := path.Base(strings.ReplaceAll(imageID, "\\", "/"))
	if name == "." || name == "/" {
		name = imageID
	}
	name = stripExtension(name)
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Only strip something that looks like a file extension, so that "st.mary_east_1" keeps its dot
func stripExtension(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return name
	}
	ext := name[dot+1:]
	if len(ext) == 0 || len(ext) > 5 || strings.ContainsAny(ext, "_ ") {
		return name
	}
	return name[:dot]
}

// Location is everything we know about one location.
// Any of the region lists may be empty, which is normal.
type Location struct {
	Key             string
	GateRegions     []roi.Region // Crops that are sent to the gate validator
	CrossingRegions []roi.Region // Where fallback detections must land to count
	HeaderCrops     []roi.Region // Where the camera burns its text overlay into the frame
	crossingIndex   *roi.Index
}

func (l *Location) HasGateRegions() bool {
	return len(l.GateRegions) != 0
}

func (l *Location) HasCrossingRegions() bool {
	return len(l.CrossingRegions) != 0
}

// Returns true if the box touches any crossing region
func (l *Location) IntersectsCrossing(box nn.Rect) bool {
	if l.crossingIndex == nil {
		return roi.Intersects(box, l.CrossingRegions)
	}
	return l.crossingIndex.Intersects(box)
}

// RegionSets is the on-disk form of the location config.
// The three sets are keyed identically, but independently: a location may appear in any of them.
type RegionSets struct {
	GateRegions     map[string][]roi.Region `json:"gateRegions"`
	CrossingRegions map[string][]roi.Region `json:"crossingRegions"`
	HeaderCrops     map[string][]roi.Region `json:"headerCrops"`
}

// Config is the read-only location lookup table.
// The zero value is not valid; use NewConfig or Empty.
type Config struct {
	locations map[string]*Location
}

// Empty returns a config with no locations. Every lookup yields a Location with no regions.
func Empty() *Config {
	return &Config{
		locations: map[string]*Location{},
	}
}

// NewConfig merges the three region sets into one lookup table.
// Keys are lowercased, so that they match the output of LocationKey.
func NewConfig(sets RegionSets) *Config {
	c := Empty()
	get := func(key string) *Location {
		key = strings.ToLower(key)
		loc := c.locations[key]
		if loc == nil {
			loc = &Location{Key: key}
			c.locations[key] = loc
		}
		return loc
	}
	for key, regions := range sets.GateRegions {
		loc := get(key)
		loc.GateRegions = append(loc.GateRegions, regions...)
	}
	for key, regions := range sets.CrossingRegions {
		loc := get(key)
		loc.CrossingRegions = append(loc.CrossingRegions, regions...)
	}
	for key, regions := range sets.HeaderCrops {
		loc := get(key)
		loc.HeaderCrops = append(loc.HeaderCrops, regions...)
	}
	for _, loc := range c.locations {
		if len(loc.CrossingRegions) != 0 {
			loc.crossingIndex = roi.NewIndex(loc.CrossingRegions)
		}
	}
	return c
}

// LoadConfig reads a JSON file in the RegionSets format
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read locations file %v: %w", filename, err)
	}
	sets := RegionSets{}
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("Failed to decode locations file %v: %w", filename, err)
	}
	return NewConfig(sets), nil
}

// Lookup returns the location for a key. Unknown keys return a Location with no regions.
func (c *Config) Lookup(key string) *Location {
	if loc := c.locations[key]; loc != nil {
		return loc
	}
	return &Location{Key: key}
}

// Resolve derives the location key of an image, and looks it up
func (c *Config) Resolve(imageID string) *Location {
	return c.Lookup(LocationKey(imageID))
}

// Keys returns the configured location keys, sorted
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.locations))
	for k := range c.locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
