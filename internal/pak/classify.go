package pak

import (
	"path"
	"strings"
)

// Class is what the pipeline does with an input, decided by its name alone.
type Class int

const (
	ClassOther Class = iota
	ClassPage
	ClassTemplate
	ClassRevisionConfig
	ClassBitmap
	ClassVideo
	ClassAudio
	ClassDiagram
	ClassSVG
	ClassBundle
	ClassFont
	ClassSourceMap
)

// RevisionConfigName is the file name of the per-revision configuration.
const RevisionConfigName = "_config.yaml"

var classByExt = map[string]Class{
	"md":     ClassPage,
	"html":   ClassTemplate,
	"tmpl":   ClassTemplate,
	"png":    ClassBitmap,
	"jpg":    ClassBitmap,
	"jpeg":   ClassBitmap,
	"gif":    ClassBitmap,
	"webp":   ClassBitmap,
	"avif":   ClassBitmap,
	"mp4":    ClassVideo,
	"webm":   ClassVideo,
	"mov":    ClassVideo,
	"mp3":    ClassAudio,
	"ogg":    ClassAudio,
	"wav":    ClassAudio,
	"m4a":    ClassAudio,
	"drawio": ClassDiagram,
	"svg":    ClassSVG,
	"js":     ClassBundle,
	"css":    ClassBundle,
	"wasm":   ClassBundle,
	"woff":   ClassFont,
	"woff2":  ClassFont,
	"ttf":    ClassFont,
	"otf":    ClassFont,
	"map":    ClassSourceMap,
}

// Classify decides how p is processed. Every file named _config.yaml
// classifies as a revision config and is never published, but only the one
// at a mapping root is read (see PathMappings.IsConfigPath).
func Classify(p InputPath) Class {
	if path.Base(string(p)) == RevisionConfigName {
		return ClassRevisionConfig
	}

	return classByExt[p.Ext()]
}

// IsMedia reports whether inputs of class c are probed for MediaProps.
func (c Class) IsMedia() bool {
	switch c {
	case ClassBitmap, ClassVideo, ClassAudio, ClassDiagram, ClassSVG:
		return true
	default:
		return false
	}
}

// MediaKind returns the media kind for a media class.
func (c Class) MediaKind() MediaKind {
	switch c {
	case ClassBitmap:
		return MediaBitmap
	case ClassVideo:
		return MediaVideo
	case ClassAudio:
		return MediaAudio
	case ClassDiagram, ClassSVG:
		return MediaDiagram
	default:
		return ""
	}
}

var contentTypes = map[string]string{
	"md":     "text/markdown; charset=utf-8",
	"html":   "text/html; charset=utf-8",
	"tmpl":   "text/plain; charset=utf-8",
	"yaml":   "application/yaml",
	"png":    "image/png",
	"jpg":    "image/jpeg",
	"jpeg":   "image/jpeg",
	"gif":    "image/gif",
	"webp":   "image/webp",
	"avif":   "image/avif",
	"svg":    "image/svg+xml",
	"drawio": "application/vnd.jgraph.mxfile",
	"mp4":    "video/mp4",
	"webm":   "video/webm",
	"mov":    "video/quicktime",
	"mp3":    "audio/mpeg",
	"ogg":    "audio/ogg",
	"wav":    "audio/wav",
	"m4a":    "audio/mp4",
	"js":     "text/javascript; charset=utf-8",
	"css":    "text/css; charset=utf-8",
	"wasm":   "application/wasm",
	"woff":   "font/woff",
	"woff2":  "font/woff2",
	"ttf":    "font/ttf",
	"otf":    "font/otf",
	"map":    "application/json",
	"json":   "application/json",
	"txt":    "text/plain; charset=utf-8",
	"pdf":    "application/pdf",
}

// ContentTypeForExt returns the MIME type for a lower-case extension. The
// table is fixed so that results never depend on the host's mime database.
func ContentTypeForExt(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}

	return "application/octet-stream"
}

// ContentTypeOf returns the MIME type of p.
func ContentTypeOf(p InputPath) string {
	return ContentTypeForExt(p.Ext())
}
