package build

import (
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// ActionKind is the type of a manifest mutation produced by a worker.
type ActionKind uint8

const (
	ActionInsertInput ActionKind = iota + 1
	ActionInsertPage
	ActionInsertTemplate
	ActionInsertMediaProps
	ActionInsertFont
	ActionSetRevisionConfig
	ActionError
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsertInput:
		return "insert_input"
	case ActionInsertPage:
		return "insert_page"
	case ActionInsertTemplate:
		return "insert_template"
	case ActionInsertMediaProps:
		return "insert_media_props"
	case ActionInsertFont:
		return "insert_font"
	case ActionSetRevisionConfig:
		return "set_revision_config"
	case ActionError:
		return "error"
	default:
		return "unknown"
	}
}

// AddAction is one mutation of the Pak. Workers only produce them; the
// orchestrator is the only one applying them.
type AddAction struct {
	Kind ActionKind
	Path pak.InputPath

	Input      pak.Input
	Page       pak.Page
	Template   pak.Template
	MediaProps pak.MediaProps
	Font       pak.Font
	Config     pak.RevisionConfig
	Err        error
}

// apply mutates p. An ActionError returns its error and leaves p untouched.
func (a AddAction) apply(p *pak.Pak) error {
	switch a.Kind {
	case ActionInsertInput:
		p.Inputs[a.Path] = a.Input
	case ActionInsertPage:
		p.Pages[a.Path] = a.Page
	case ActionInsertTemplate:
		p.Templates[a.Path] = a.Template
	case ActionInsertMediaProps:
		p.MediaProps[a.Path] = a.MediaProps
	case ActionInsertFont:
		p.Fonts.Put(a.Font)
	case ActionSetRevisionConfig:
		p.SetConfig(a.Config)
	case ActionError:
		return a.Err
	}

	return nil
}

func errorAction(p pak.InputPath, err error) AddAction {
	return AddAction{Kind: ActionError, Path: p, Err: err}
}
