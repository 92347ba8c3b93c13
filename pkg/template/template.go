// Package template renders the init script get_init_file emits: a literal
// "[% KEY %]" placeholder substitution with no conditionals, adapted from
// the teacher's process-template Generator into a shell-script renderer.
package template

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

const startTag = "[%"
const endTag = "%]"

// InitScriptParams fills the built-in LSB init-script template.
type InitScriptParams struct {
	Name       string // service/population name, used in LSB headers
	ScriptPath string // absolute path to this init script, for the dispatch line
	ConfigPath string // optional: sourced via "[ -r CONFIG ] && . CONFIG" if non-empty
	UserCode   string // optional: pre-rendered shell fragment, inserted verbatim
}

// defaultInitScript is the built-in template: LSB headers, an optional
// config source line, an optional pre-rendered user code block, and the
// dispatch to the hadcd binary itself.
const defaultInitScript = `#!/bin/sh
### BEGIN INIT INFO
# Provides:          [% NAME %]
# Required-Start:    $remote_fs $syslog
# Required-Stop:     $remote_fs $syslog
# Default-Start:     2 3 4 5
# Default-Stop:      0 1 6
# Short-Description: [% NAME %] supervised process population
### END INIT INFO

[% CONFIG_LINE %]
[% USER_CODE %]

exec [% SCRIPT %] "$1"
`

// Generator renders templates by substituting "[% KEY %]" placeholders.
// It never evaluates conditionals: any conditional content must already be
// resolved by the caller before being passed in (e.g. via UserCode).
type Generator struct {
	template string
}

// NewGenerator returns a Generator over the built-in init-script template.
func NewGenerator() *Generator {
	return &Generator{template: defaultInitScript}
}

// NewGeneratorWithTemplate returns a Generator over a caller-supplied
// template string, for tests and for alternate init-script layouts.
func NewGeneratorWithTemplate(tpl string) *Generator {
	return &Generator{template: tpl}
}

// RenderInitScript substitutes params into the init-script template.
func (g *Generator) RenderInitScript(p InitScriptParams) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("template: init script requires a name")
	}
	if p.ScriptPath == "" {
		return "", fmt.Errorf("template: init script requires a script path")
	}
	configLine := ""
	if p.ConfigPath != "" {
		configLine = fmt.Sprintf("[ -r %s ] && . %s", p.ConfigPath, p.ConfigPath)
	}
	return g.Execute(map[string]string{
		"NAME":        p.Name,
		"SCRIPT":      p.ScriptPath,
		"CONFIG_LINE": configLine,
		"USER_CODE":   p.UserCode,
	})
}

// Execute substitutes the given key/value pairs into the template using
// fasttemplate's "[% KEY %]" delimiters. The whitespace around KEY inside
// the delimiters is trimmed before lookup. Keys absent from values render
// as empty strings.
func (g *Generator) Execute(values map[string]string) (string, error) {
	t, err := fasttemplate.NewTemplate(g.template, startTag, endTag)
	if err != nil {
		return "", fmt.Errorf("template: parse: %w", err)
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(values[strings.TrimSpace(tag)]))
	}), nil
}
