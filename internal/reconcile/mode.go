package reconcile

import (
	"path"
	"strings"

	"github.com/starford/folio/internal/models"
)

// extModes maps lower-cased file extensions to the mode a discovered file
// gets when its header does not name one.
var extModes = map[string]models.Mode{
	".md":       models.ModeMarkdown,
	".markdown": models.ModeMarkdown,
	".mdx":      models.ModeMarkdown,
	".txt":      models.ModeMarkdown,

	".html": models.ModeRichNotes,
	".htm":  models.ModeRichNotes,

	".go":    models.ModeCode,
	".py":    models.ModeCode,
	".js":    models.ModeCode,
	".mjs":   models.ModeCode,
	".ts":    models.ModeCode,
	".tsx":   models.ModeCode,
	".jsx":   models.ModeCode,
	".java":  models.ModeCode,
	".kt":    models.ModeCode,
	".c":     models.ModeCode,
	".h":     models.ModeCode,
	".cc":    models.ModeCode,
	".cpp":   models.ModeCode,
	".hpp":   models.ModeCode,
	".cs":    models.ModeCode,
	".rs":    models.ModeCode,
	".rb":    models.ModeCode,
	".php":   models.ModeCode,
	".swift": models.ModeCode,
	".sh":    models.ModeCode,
	".bash":  models.ModeCode,
	".css":   models.ModeCode,
	".scss":  models.ModeCode,
	".sql":   models.ModeCode,
	".json":  models.ModeCode,
	".yaml":  models.ModeCode,
	".yml":   models.ModeCode,
	".toml":  models.ModeCode,
	".xml":   models.ModeCode,
	".lua":   models.ModeCode,
}

// ModeForPath infers a document mode from the file extension. Unknown
// extensions are markdown.
func ModeForPath(p string) models.Mode {
	if m, ok := extModes[strings.ToLower(path.Ext(p))]; ok {
		return m
	}
	return models.ModeMarkdown
}
