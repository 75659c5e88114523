// Package safety screens generation input before any points are spent.
// Rules are regex patterns loaded from a YAML file, with a built-in default
// set when no file is configured.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
)

// RuleDefinition is one blocked-content rule from the config file.
type RuleDefinition struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

type ruleFile struct {
	Blocked []RuleDefinition `yaml:"blocked"`
}

// Rule is a compiled blocked-content rule.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Checker evaluates request fields against the loaded rule set.
type Checker struct {
	rules []Rule
}

// defaultRules covers content a lesson-plan request has no business carrying.
var defaultRules = []RuleDefinition{
	{Name: "explicit_sexual", Pattern: `(?i)\b(pornograf|konten seksual eksplisit|sexual(ly)? explicit)\b`},
	{Name: "violence_instructions", Pattern: `(?i)\b(cara membuat bom|merakit senjata|how to (build|make) (a )?(bomb|weapon))\b`},
	{Name: "drugs", Pattern: `(?i)\b(cara membuat narkoba|meracik sabu|synthesi[sz]e (meth|drugs))\b`},
	{Name: "prompt_injection", Pattern: `(?i)\b(ignore (all )?(previous|prior) instructions|abaikan instruksi sebelumnya)\b`},
}

// Load reads rules from a YAML file.
func Load(path string) (*Checker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety rules file %s: %w", path, err)
	}

	var parsed ruleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse safety rules file %s: %w", path, err)
	}
	return compile(parsed.Blocked)
}

// Default builds a Checker from the built-in rule set.
func Default() *Checker {
	c, err := compile(defaultRules)
	if err != nil {
		panic(err) // built-in patterns are static
	}
	return c
}

func compile(defs []RuleDefinition) (*Checker, error) {
	rules := make([]Rule, 0, len(defs))
	for _, def := range defs {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile safety rule %s: %w", def.Name, err)
		}
		rules = append(rules, Rule{Name: def.Name, Pattern: re})
	}
	return &Checker{rules: rules}, nil
}

// Check scans the given fields and returns a content-filtered error naming
// the first rule that matched.
func (c *Checker) Check(fields ...string) error {
	text := strings.Join(fields, "\n")
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(text) {
			return apperr.Newf(apperr.ContentFiltered, "request blocked by content rule %s", rule.Name)
		}
	}
	return nil
}

// Len reports how many rules are loaded.
func (c *Checker) Len() int { return len(c.rules) }
