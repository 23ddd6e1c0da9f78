// Package catalog declares the New Relic event streams the tap can sync.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// queryTemplate selects one event type over a {since}/{until} window.
const queryTemplate = "SELECT * FROM %s SINCE '{since}' UNTIL '{until}' ORDER BY timestamp LIMIT MAX"

// Schema is the JSON schema subset used for Singer SCHEMA messages.
type Schema struct {
	Type       []string           `json:"type"`
	Format     string             `json:"format,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
}

// Definition describes one stream: its event type, query and schema.
type Definition struct {
	Name           string
	EventType      string
	KeyProperties  []string
	ReplicationKey string
	Schema         *Schema
}

// Query returns the NRQL template for the stream's event type.
func (d *Definition) Query() string {
	return fmt.Sprintf(queryTemplate, d.EventType)
}

func prop(typ string) *Schema {
	return &Schema{Type: []string{typ, "null"}}
}

func object(props map[string]string) *Schema {
	s := &Schema{Type: []string{"object"}, Properties: make(map[string]*Schema, len(props))}
	for name, typ := range props {
		if typ == "date-time" {
			s.Properties[name] = &Schema{Type: []string{"string", "null"}, Format: "date-time"}
			continue
		}
		s.Properties[name] = prop(typ)
	}
	return s
}

var syntheticChecks = &Definition{
	Name:           "synthetic_checks",
	EventType:      "SyntheticCheck",
	KeyProperties:  []string{"id"},
	ReplicationKey: "timestamp",
	Schema: object(map[string]string{
		"duration":                        "number",
		"entity_guid":                     "string",
		"has_user_defined_headers":        "boolean",
		"id":                              "string",
		"location":                        "string",
		"location_label":                  "string",
		"minion":                          "string",
		"minion_container_system":         "string",
		"minion_container_system_version": "string",
		"minion_deployment_mode":          "string",
		"minion_id":                       "string",
		"monitor_extended_type":           "string",
		"monitor_id":                      "string",
		"monitor_name":                    "string",
		"error":                           "string",
		"result":                          "string",
		"secure_credentials":              "string",
		"timestamp":                       "date-time",
		"total_request_body_size":         "integer",
		"total_request_header_size":       "integer",
		"total_response_body_size":        "integer",
		"total_response_header_size":      "integer",
		"type":                            "string",
		"type_label":                      "string",
	}),
}

var mobileApp = &Definition{
	Name:           "mobile_app",
	EventType:      "mobile_app",
	KeyProperties:  []string{"event_id"},
	ReplicationKey: "timestamp",
	Schema: object(map[string]string{
		"app_mode":            "string",
		"app_build":           "string",
		"app_id":              "integer",
		"app_name":            "string",
		"app_version":         "string",
		"app_version_id":      "integer",
		"asn":                 "string",
		"asn_owner":           "string",
		"brand":               "string",
		"carrier":             "string",
		"city":                "string",
		"consultant_gid":      "string",
		"country_code":        "string",
		"customer_gid":        "string",
		"datetime":            "string",
		"device":              "string",
		"device_group":        "string",
		"device_manufacturer": "string",
		"device_model":        "string",
		"device_type":         "string",
		"device_uuid":         "string",
		"enabled_features":    "string",
		"entity_guid":         "string",
		"event_id":            "string",
		"last_interaction":    "string",
		"mem_usage_mb":        "number",
		"name":                "string",
		"new_relic_agent":     "string",
		"new_relic_version":   "string",
		"os_major_version":    "string",
		"os_name":             "string",
		"os_version":          "string",
		"platform":            "string",
		"region_code":         "string",
		"screen":              "string",
		"session_duration":    "number",
		"session_id":          "string",
		"time_since_load":     "number",
		"timestamp":           "date-time",
		"tracking_id":         "string",
		"triggered_from":      "string",
		"upgrade_from":        "string",
		"uuid":                "string",
	}),
}

// All returns every known stream, sorted by name.
func All() []*Definition {
	defs := []*Definition{mobileApp, syntheticChecks}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Lookup finds a stream by name.
func Lookup(name string) (*Definition, bool) {
	for _, d := range All() {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Select resolves stream names; an empty list selects every stream.
func Select(names []string) ([]*Definition, error) {
	if len(names) == 0 {
		return All(), nil
	}

	var defs []*Definition
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		d, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown stream %q", name)
		}
		seen[name] = true
		defs = append(defs, d)
	}
	return defs, nil
}

// Entry is one stream of a Singer catalog document.
type Entry struct {
	TapStreamID       string     `json:"tap_stream_id"`
	Stream            string     `json:"stream"`
	Schema            *Schema    `json:"schema"`
	KeyProperties     []string   `json:"key_properties"`
	ReplicationKey    string     `json:"replication_key"`
	ReplicationMethod string     `json:"replication_method"`
	Metadata          []Metadata `json:"metadata"`
}

// Metadata is a Singer breadcrumb metadata entry.
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Catalog is the document printed by discovery and read back with --catalog.
type Catalog struct {
	Streams []Entry `json:"streams"`
}

// Discover builds the catalog of every stream, all marked selected.
func Discover() *Catalog {
	c := &Catalog{}
	for _, d := range All() {
		c.Streams = append(c.Streams, Entry{
			TapStreamID:       d.Name,
			Stream:            d.Name,
			Schema:            d.Schema,
			KeyProperties:     d.KeyProperties,
			ReplicationKey:    d.ReplicationKey,
			ReplicationMethod: "INCREMENTAL",
			Metadata: []Metadata{{
				Breadcrumb: []string{},
				Metadata: map[string]any{
					"selected":             true,
					"inclusion":            "available",
					"table-key-properties": d.KeyProperties,
					"valid-replication-keys": []string{
						d.ReplicationKey,
					},
					"forced-replication-method": "INCREMENTAL",
				},
			}},
		})
	}
	return c
}

// LoadFile reads a Singer catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// Selected returns the names of streams whose top-level metadata marks
// them selected.
func (c *Catalog) Selected() []string {
	var names []string
	for _, e := range c.Streams {
		for _, m := range e.Metadata {
			if len(m.Breadcrumb) != 0 {
				continue
			}
			if sel, ok := m.Metadata["selected"].(bool); ok && sel {
				names = append(names, e.TapStreamID)
			}
		}
	}
	return names
}
