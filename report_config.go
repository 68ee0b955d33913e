package reporter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-allure/allure"
)

// ReportConfig is the optional YAML file loaded through --report-config:
//
//	categories:
//	  - name: Timeouts
//	    messageRegex: ".*timed out.*"
//	    matchedStatuses: [broken]
//	environment:
//	  network: sepolia
//	labels:
//	  framework: go
type ReportConfig struct {
	Categories  []allure.Category `yaml:"categories"`
	Environment orderedPairs      `yaml:"environment"`
	Labels      orderedPairs      `yaml:"labels"`
}

// orderedPairs decodes a YAML mapping without losing key order.
type orderedPairs []EnvironmentItem

func (p *orderedPairs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	pairs := make(orderedPairs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key, value string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("line %d: value of %q: %w", node.Content[i+1].Line, key, err)
		}
		pairs = append(pairs, EnvironmentItem{Key: key, Value: value})
	}
	*p = pairs
	return nil
}

// LoadReportConfig reads a report configuration file.
func LoadReportConfig(path string) (*ReportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report config: %w", err)
	}

	var cfg ReportConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing report config: %w", err)
	}

	for i, c := range cfg.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
	}
	return &cfg, nil
}

// Apply writes the categories and environment of cfg and registers its labels
// as default labels for every test started afterwards.
func (cfg *ReportConfig) Apply(r *Reporter) error {
	if len(cfg.Categories) > 0 {
		if err := r.WriteCategories(cfg.Categories); err != nil {
			return err
		}
	}
	for _, item := range cfg.Environment {
		r.AddEnvironment(item.Key, item.Value)
	}
	for _, label := range cfg.Labels {
		r.AddDefaultLabel(label.Key, label.Value)
	}
	return r.Err()
}
