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

// Package prompts loads prompt templates from XML and resolves them by
// (site, item type, prompt name) with class-hierarchy fallback. Templates
// are parsed once at startup into an immutable lookup table.
package prompts

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// Prompt is a template string plus the JSON schema its answer must follow.
type Prompt struct {
	Name     string
	Template string
	Schema   map[string]any
}

// Registry holds every loaded prompt, keyed for O(1) lookup.
type Registry struct {
	byKey map[string]*Prompt
}

// siteGlobal keys prompts declared outside any <Site> element.
const siteGlobal = ""

type xmlRoot struct {
	XMLName xml.Name
	Sites   []xmlSite       `xml:"Site"`
	Types   []xmlSchemaType `xml:"SchemaType"`
}

type xmlSite struct {
	Name  string          `xml:"name,attr"`
	Types []xmlSchemaType `xml:"SchemaType"`
}

type xmlSchemaType struct {
	Name    string      `xml:"name,attr"`
	Prompts []xmlPrompt `xml:"Prompt"`
}

type xmlPrompt struct {
	Ref          string `xml:"ref,attr"`
	PromptString string `xml:"promptString"`
	ReturnStruc  string `xml:"returnStruc"`
}

// Load parses a prompts XML file. Malformed XML or an unparsable
// returnStruc is a startup error.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw XML.
func Parse(data []byte) (*Registry, error) {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse prompts XML: %w", err)
	}

	r := &Registry{byKey: make(map[string]*Prompt)}

	for _, st := range root.Types {
		if err := r.addType(siteGlobal, st); err != nil {
			return nil, err
		}
	}
	for _, site := range root.Sites {
		for _, st := range site.Types {
			if err := r.addType(site.Name, st); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

func (r *Registry) addType(site string, st xmlSchemaType) error {
	itemType := schemaorg.LocalType(st.Name)
	for _, p := range st.Prompts {
		prompt := &Prompt{
			Name:     p.Ref,
			Template: strings.TrimSpace(p.PromptString),
		}
		if struc := strings.TrimSpace(p.ReturnStruc); struc != "" {
			var schema map[string]any
			if err := json.Unmarshal([]byte(struc), &schema); err != nil {
				return fmt.Errorf("prompt %s/%s/%s has invalid returnStruc: %w", site, itemType, p.Ref, err)
			}
			prompt.Schema = schema
		}
		r.byKey[promptKey(site, itemType, p.Ref)] = prompt
	}
	return nil
}

func promptKey(site, itemType, name string) string {
	return site + "\x00" + itemType + "\x00" + name
}

// Find resolves a prompt by walking the item type's class hierarchy for
// the given site, then for the global scope. A miss returns (nil, nil);
// callers that need the prompt log and skip.
func (r *Registry) Find(site, itemType, name string) (*Prompt, error) {
	hierarchy := schemaorg.TypeHierarchy(itemType)

	for _, scope := range []string{site, siteGlobal} {
		for _, t := range hierarchy {
			if p, ok := r.byKey[promptKey(scope, schemaorg.LocalType(t), name)]; ok {
				return p, nil
			}
		}
	}
	return nil, nil
}

// Count reports the number of loaded prompts.
func (r *Registry) Count() int {
	return len(r.byKey)
}
