// Package content serves the static educational material bundled with the
// binary.
package content

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed education.yaml
var educationYAML []byte

type Library struct {
	Topics             []Topic      `yaml:"topics" json:"topics"`
	ImagingGuide       ImagingGuide `yaml:"imaging_guide" json:"imaging_guide"`
	UploadInstructions []string     `yaml:"upload_instructions" json:"upload_instructions"`
	Features           []Feature    `yaml:"features" json:"features"`
	Disclaimer         string       `yaml:"disclaimer" json:"disclaimer"`
}

type Topic struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Tab         string    `yaml:"tab" json:"tab"`
	Summary     string    `yaml:"summary" json:"summary"`
	Intro       string    `yaml:"intro" json:"intro"`
	Sections    []Section `yaml:"sections" json:"sections"`
	ImagingNote Note      `yaml:"imaging_note" json:"imaging_note"`
}

type Section struct {
	Heading string   `yaml:"heading" json:"heading"`
	Text    string   `yaml:"text,omitempty" json:"text,omitempty"`
	Items   []string `yaml:"items,omitempty" json:"items,omitempty"`
	Terms   []Term   `yaml:"terms,omitempty" json:"terms,omitempty"`
}

type Term struct {
	Term string `yaml:"term" json:"term"`
	Text string `yaml:"text" json:"text"`
}

type Note struct {
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`
}

type ImagingGuide struct {
	Title     string `yaml:"title" json:"title"`
	ScanTypes []Term `yaml:"scan_types" json:"scan_types"`
	Views     []Term `yaml:"views" json:"views"`
	Sequences []Term `yaml:"sequences" json:"sequences"`
}

type Feature struct {
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`
}

// Topic looks a topic up by id.
func (l Library) Topic(id string) (Topic, bool) {
	for _, t := range l.Topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

var (
	loadOnce sync.Once
	library  Library
	loadErr  error
)

// Load parses the embedded library once.
func Load() (Library, error) {
	loadOnce.Do(func() {
		library, loadErr = Parse(educationYAML)
	})
	return library, loadErr
}

func Parse(raw []byte) (Library, error) {
	var lib Library
	if err := yaml.Unmarshal(raw, &lib); err != nil {
		return Library{}, fmt.Errorf("parse education content: %w", err)
	}
	if len(lib.Topics) == 0 {
		return Library{}, fmt.Errorf("education content has no topics")
	}
	for _, t := range lib.Topics {
		if t.ID == "" || t.Title == "" {
			return Library{}, fmt.Errorf("education topic is missing id or title")
		}
	}
	return lib, nil
}
