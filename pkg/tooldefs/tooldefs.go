// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tooldefs loads tool definitions from XML and resolves the tools
// applicable to an item type through schema.org class-hierarchy
// inheritance.
package tooldefs

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// Tool is one loaded tool definition.
type Tool struct {
	Name        string
	SchemaType  string
	Path        string
	Method      string
	Arguments   map[string]string
	Examples    []string
	Prompt      string
	ReturnStruc map[string]any
	Handler     string
}

// Description renders the tool for routing prompts: name, arguments and
// examples in a form an LLM can score against a query.
func (t *Tool) Description() string {
	var b strings.Builder
	b.WriteString(t.Name)
	if len(t.Arguments) > 0 {
		b.WriteString(" (arguments:")
		for name, desc := range t.Arguments {
			b.WriteString(" ")
			b.WriteString(name)
			if desc != "" {
				b.WriteString(": ")
				b.WriteString(desc)
			}
			b.WriteString(";")
		}
		b.WriteString(")")
	}
	if len(t.Examples) > 0 {
		b.WriteString(" examples: ")
		b.WriteString(strings.Join(t.Examples, "; "))
	}
	return b.String()
}

// Registry holds loaded tools grouped by declaring schema type, with a
// per-type cache of resolved (inherited) tool sets.
type Registry struct {
	byType map[string][]*Tool

	mu    sync.RWMutex
	cache map[string][]*Tool
}

type xmlRoot struct {
	XMLName xml.Name
	Types   []xmlSchemaType `xml:",any"`
}

type xmlSchemaType struct {
	XMLName xml.Name
	Tools   []xmlTool `xml:"Tool"`
}

type xmlTool struct {
	Name        string        `xml:"name,attr"`
	Enabled     string        `xml:"enabled,attr"`
	Path        string        `xml:"path"`
	Method      string        `xml:"method"`
	Arguments   []xmlArgument `xml:"argument"`
	Examples    []string      `xml:"example"`
	Prompt      string        `xml:"prompt"`
	ReturnStruc string        `xml:"returnStruc"`
	Handler     string        `xml:"handler"`
}

type xmlArgument struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Load parses a tools XML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tools file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw XML. Tools with enabled="false" are
// skipped at load time.
func Parse(data []byte) (*Registry, error) {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse tools XML: %w", err)
	}

	r := &Registry{
		byType: make(map[string][]*Tool),
		cache:  make(map[string][]*Tool),
	}

	for _, st := range root.Types {
		schemaType := schemaorg.LocalType(st.XMLName.Local)
		for _, xt := range st.Tools {
			if strings.EqualFold(xt.Enabled, "false") {
				continue
			}
			tool := &Tool{
				Name:       xt.Name,
				SchemaType: schemaType,
				Path:       strings.TrimSpace(xt.Path),
				Method:     strings.TrimSpace(xt.Method),
				Prompt:     strings.TrimSpace(xt.Prompt),
				Handler:    strings.TrimSpace(xt.Handler),
			}
			if len(xt.Arguments) > 0 {
				tool.Arguments = make(map[string]string, len(xt.Arguments))
				for _, arg := range xt.Arguments {
					tool.Arguments[arg.Name] = strings.TrimSpace(arg.Value)
				}
			}
			for _, ex := range xt.Examples {
				tool.Examples = append(tool.Examples, strings.TrimSpace(ex))
			}
			if struc := strings.TrimSpace(xt.ReturnStruc); struc != "" {
				var schema map[string]any
				if err := json.Unmarshal([]byte(struc), &schema); err != nil {
					return nil, fmt.Errorf("tool %s/%s has invalid returnStruc: %w", schemaType, xt.Name, err)
				}
				tool.ReturnStruc = schema
			}
			r.byType[schemaType] = append(r.byType[schemaType], tool)
		}
	}

	return r, nil
}

// ToolsForType returns the tools applicable to an item type: the type's
// own tools plus those inherited from ancestors, most specific first. A
// subtype's tool shadows an ancestor tool of the same name. Resolved sets
// are cached per type.
func (r *Registry) ToolsForType(itemType string) []*Tool {
	local := schemaorg.LocalType(itemType)

	r.mu.RLock()
	cached, ok := r.cache[local]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[local]; ok {
		return cached
	}

	seen := make(map[string]bool)
	var resolved []*Tool
	for _, t := range schemaorg.TypeHierarchy(local) {
		for _, tool := range r.byType[schemaorg.LocalType(t)] {
			if seen[tool.Name] {
				continue
			}
			seen[tool.Name] = true
			resolved = append(resolved, tool)
		}
	}

	r.cache[local] = resolved
	return resolved
}

// Find returns the named tool applicable to an item type, or nil.
func (r *Registry) Find(itemType, name string) *Tool {
	for _, tool := range r.ToolsForType(itemType) {
		if tool.Name == name {
			return tool
		}
	}
	return nil
}

// Count reports the number of loaded tools across all types.
func (r *Registry) Count() int {
	n := 0
	for _, tools := range r.byType {
		n += len(tools)
	}
	return n
}
