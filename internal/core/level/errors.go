package level

import "errors"

var (
	ErrNoClassName      = errors.New("entity has no classname")
	ErrNoSpawnFunction  = errors.New("no spawn function")
	ErrNotPrecached     = errors.New("not precached")
	ErrPrecacheClosed   = errors.New("precache outside of spawn functions")
	ErrPrecacheOverflow = errors.New("precache list full")
	ErrBadSound         = errors.New("bad sound parameters")
	ErrParse            = errors.New("entity text parse error")
	ErrBadMap           = errors.New("bad map definition")
	ErrNotLoaded        = errors.New("no level loaded")
)
