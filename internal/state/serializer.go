package state

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

type JSONSerializer struct{}

func (JSONSerializer) Marshal(r Record) ([]byte, error) { return json.Marshal(r) }

func (JSONSerializer) Unmarshal(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}

type YAMLSerializer struct{}

func (YAMLSerializer) Marshal(r Record) ([]byte, error) { return yaml.Marshal(r) }

func (YAMLSerializer) Unmarshal(data []byte) (Record, error) {
	var r Record
	err := yaml.Unmarshal(data, &r)
	return r, err
}
