// Package catalog loads the task descriptors a compute service publishes to
// pull clients from an HCL file:
//
//	active = "pi-large"
//
//	task "pi-large" {
//	  type    = "montecarlo.pi"
//	  version = 1
//	  seed    = 42
//	  input   = <<EOT
//	  {"trials": 1000000}
//	  EOT
//	}
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/seantiz/gridrelay/internal/task"
)

// ErrNoTask is returned when a named task is not in the catalog.
var ErrNoTask = errors.New("task not in catalog")

// Entry is one named descriptor of the catalog.
type Entry struct {
	Name       string
	Descriptor task.Descriptor
}

// Catalog is the decoded content of a catalog file.
type Catalog struct {
	Active  string
	Entries []Entry
}

type hclCatalogFile struct {
	Active string     `hcl:"active,optional"`
	Tasks  []*hclTask `hcl:"task,block"`
}

type hclTask struct {
	Name    string `hcl:"name,label"`
	Type    string `hcl:"type"`
	Version int    `hcl:"version,optional"`
	Seed    uint64 `hcl:"seed,optional"`
	Input   string `hcl:"input,optional"`
}

// Load parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, diags)
	}
	return decode(path, f.Body)
}

// Parse parses catalog source held in memory. filename is used in
// diagnostics only.
func Parse(src []byte, filename string) (*Catalog, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", filename, diags)
	}
	return decode(filename, f.Body)
}

func decode(filename string, body hcl.Body) (*Catalog, error) {
	var parsed hclCatalogFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", filename, diags)
	}

	c := &Catalog{Active: parsed.Active}
	seen := make(map[string]bool, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		if seen[t.Name] {
			return nil, fmt.Errorf("catalog %s: duplicate task %q", filename, t.Name)
		}
		seen[t.Name] = true

		input := json.RawMessage(`{}`)
		if t.Input != "" {
			if !json.Valid([]byte(t.Input)) {
				return nil, fmt.Errorf("catalog %s: task %q: input is not valid JSON", filename, t.Name)
			}
			input = json.RawMessage(t.Input)
		}
		version := t.Version
		if version == 0 {
			version = 1
		}

		c.Entries = append(c.Entries, Entry{
			Name: t.Name,
			Descriptor: task.Descriptor{
				Type:    t.Type,
				Version: version,
				Schema:  task.SchemaVersion,
				Seed:    t.Seed,
				Input:   input,
			},
		})
	}

	if c.Active != "" && !seen[c.Active] {
		return nil, fmt.Errorf("catalog %s: active %q: %w", filename, c.Active, ErrNoTask)
	}
	return c, nil
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (task.Descriptor, error) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e.Descriptor, nil
		}
	}
	return task.Descriptor{}, fmt.Errorf("%w: %q", ErrNoTask, name)
}

// ActiveDescriptor returns the descriptor to publish at startup: the one
// named by active, or the first entry when active is unset.
func (c *Catalog) ActiveDescriptor() (task.Descriptor, bool) {
	if c.Active != "" {
		d, err := c.Lookup(c.Active)
		return d, err == nil
	}
	if len(c.Entries) == 0 {
		return task.Descriptor{}, false
	}
	return c.Entries[0].Descriptor, true
}

// Validate checks every entry against the task types reg knows.
func (c *Catalog) Validate(reg *task.Registry) error {
	for _, e := range c.Entries {
		if err := e.Descriptor.CheckCompatible(reg, nil); err != nil {
			return fmt.Errorf("catalog task %q: %w", e.Name, err)
		}
	}
	return nil
}
