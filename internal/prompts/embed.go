// Package prompts provides the default prompt templates with override
// support.
package prompts

import "embed"

//go:embed templates/*.md
var embeddedFS embed.FS
