package rowedit

import "errors"

var (
	ErrRowBusy    = errors.New("row has a save in flight")
	ErrNotEditing = errors.New("row is not in edit mode")
)
