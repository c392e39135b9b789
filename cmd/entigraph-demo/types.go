package main

import "github.com/coregx/entigraph"

// Note is a leaf entity: a single piece of free text owned by a Workspace.
type Note struct {
	entigraph.Base
	Title string
	Body  string
}

// Workspace is a root entity: a named collection of notes, with a set of
// starred note references kept alongside the ordered list.
type Workspace struct {
	entigraph.Base
	Name    string
	Notes   []*Note                  `ecs:"list"`
	Starred entigraph.Set[*Note]     `ecs:"set"`
	Tags    map[string]string        `ecs:"primitive"`
}

func init() {
	entigraph.RegisterType(&Note{})
	entigraph.RegisterType(&Workspace{})
	entigraph.RegisterPersistableType(&Note{})
	entigraph.RegisterPersistableType(&Workspace{})
}

// NewNote creates a brand-new, free-floating Note.
func NewNote(title, body string) *Note {
	return &Note{Base: entigraph.NewBase(), Title: title, Body: body}
}

// NewWorkspace creates a brand-new, free-floating Workspace.
func NewWorkspace(name string) *Workspace {
	return &Workspace{
		Base:    entigraph.NewBase(),
		Name:    name,
		Starred: entigraph.NewSet[*Note](),
		Tags:    map[string]string{},
	}
}
