package survey

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the on-disk form of a survey: its questions and, optionally,
// the surrounding messages.
type Definition struct {
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
	Messages  Messages   `yaml:"messages"`
}

// LoadDefinition reads a YAML survey definition. Messages left out of the file
// fall back to the built-in texts.
func LoadDefinition(path string) (*QuestionBank, Messages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Messages{}, fmt.Errorf("read survey definition %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a YAML survey definition.
func ParseDefinition(data []byte) (*QuestionBank, Messages, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, Messages{}, fmt.Errorf("parse survey definition: %w", err)
	}
	bank, err := NewQuestionBank(def.Questions)
	if err != nil {
		return nil, Messages{}, err
	}
	return bank, def.Messages.WithDefaults(), nil
}
