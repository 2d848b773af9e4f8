// Package generate writes long form study articles with a hosted LLM.
package generate

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompt.txt
var promptTemplate string

const (
	DefaultMaxTokens   = 8000
	DefaultTemperature = 0.7
)

// Prompt is the instruction sent for `topic`. The topic is the only variable part.
func Prompt(topic string) string {
	return fmt.Sprintf(promptTemplate, topic)
}

// Options shared by every backend.
type Options struct {
	Model       string
	MaxTokens   int
	// Nil means DefaultTemperature. Zero is a valid setting.
	Temperature *float64
}

func (o Options) withDefaults(model string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature == nil {
		t := DefaultTemperature
		o.Temperature = &t
	}
	return o
}

// Keeps error messages readable when an API answers with a whole HTML page.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
