// Package templates holds the templates satchel ships with
package templates

import (
	"embed"
	"io/fs"
)

//go:embed all:project
var content embed.FS

// Builtin returns the built-in templates keyed by the name they are referenced with, i.e. builtin:<name>
func Builtin() map[string]fs.FS {
	project, err := fs.Sub(content, "project")
	if err != nil {
		// the embedded directory always exists
		panic(err)
	}
	return map[string]fs.FS{
		"project": project,
	}
}
