// Package configs holds the assistant definition shipped with the binary.
package configs

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed assistant.yaml
var assistantYAML []byte

type Assistant struct {
	Name            string `yaml:"name"`
	Model           string `yaml:"model"`
	Instructions    string `yaml:"instructions"`
	CodeInterpreter bool   `yaml:"code_interpreter"`
}

// DefaultAssistant parses the embedded definition.
func DefaultAssistant() (Assistant, error) {
	return ParseAssistant(assistantYAML)
}

// ParseAssistant rejects unknown keys so typos in overrides surface early.
func ParseAssistant(data []byte) (Assistant, error) {
	var a Assistant
	if err := yaml.UnmarshalWithOptions(data, &a, yaml.Strict()); err != nil {
		return Assistant{}, fmt.Errorf("parse assistant yaml: %w", err)
	}
	a.Name = strings.TrimSpace(a.Name)
	a.Instructions = strings.TrimSpace(a.Instructions)
	if a.Name == "" {
		return Assistant{}, errors.New("assistant name is required")
	}
	if a.Instructions == "" {
		return Assistant{}, errors.New("assistant instructions are required")
	}
	return a, nil
}
