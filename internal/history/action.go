package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
)

// Kind enumerates the history action types.
type Kind string

const (
	KindAddElement       Kind = "add_element"
	KindUpdateElement    Kind = "update_element"
	KindDeleteElement    Kind = "delete_element"
	KindUpdateBackground Kind = "update_background"
	KindUpdateSettings   Kind = "update_settings"
	KindUpdateSeries     Kind = "update_series"
)

// ErrInapplicable indicates a change no longer matches the state it is applied to.
var ErrInapplicable = errors.New("history: change does not apply to state")

// Change is the payload of an action. Each variant carries exactly the data
// needed to apply and revert it without consulting outside state.
type Change interface {
	Kind() Kind
	isChange()
}

// AddElement inserts Element at Index.
type AddElement struct {
	Element canvas.Element
	Index   int
}

// UpdateElement replaces an element's Before value with After.
type UpdateElement struct {
	ElementID string
	Before    canvas.Element
	After     canvas.Element
}

// DeleteElement removes Element, which sat at Index.
type DeleteElement struct {
	Element canvas.Element
	Index   int
}

// UpdateBackground swaps the background image.
type UpdateBackground struct {
	Before *string
	After  *string
}

// UpdateSettings swaps the canvas settings.
type UpdateSettings struct {
	Before canvas.Settings
	After  canvas.Settings
}

// UpdateSeries covers adding (Before nil), removing (After nil) and editing
// a series declaration at Index.
type UpdateSeries struct {
	Index  int
	Before *canvas.Series
	After  *canvas.Series
}

func (AddElement) Kind() Kind       { return KindAddElement }
func (UpdateElement) Kind() Kind    { return KindUpdateElement }
func (DeleteElement) Kind() Kind    { return KindDeleteElement }
func (UpdateBackground) Kind() Kind { return KindUpdateBackground }
func (UpdateSettings) Kind() Kind   { return KindUpdateSettings }
func (UpdateSeries) Kind() Kind     { return KindUpdateSeries }

func (AddElement) isChange()       {}
func (UpdateElement) isChange()    {}
func (DeleteElement) isChange()    {}
func (UpdateBackground) isChange() {}
func (UpdateSettings) isChange()   {}
func (UpdateSeries) isChange()     {}

// Action is one history entry.
type Action struct {
	ID        string
	Timestamp time.Time
	Change    Change
}

// Kind returns the type tag of the action's change.
func (a Action) Kind() Kind {
	if a.Change == nil {
		return ""
	}
	return a.Change.Kind()
}

// Inverse returns the change that undoes the given change.
func Inverse(change Change) (Change, error) {
	switch typed := change.(type) {
	case AddElement:
		return DeleteElement{Element: typed.Element, Index: typed.Index}, nil
	case DeleteElement:
		return AddElement{Element: typed.Element, Index: typed.Index}, nil
	case UpdateElement:
		return UpdateElement{ElementID: typed.ElementID, Before: typed.After, After: typed.Before}, nil
	case UpdateBackground:
		return UpdateBackground{Before: typed.After, After: typed.Before}, nil
	case UpdateSettings:
		return UpdateSettings{Before: typed.After, After: typed.Before}, nil
	case UpdateSeries:
		return UpdateSeries{Index: typed.Index, Before: typed.After, After: typed.Before}, nil
	default:
		return nil, fmt.Errorf("%w: unknown change %T", ErrInapplicable, change)
	}
}

// Apply executes a change against a copy of the state.
func Apply(state canvas.State, change Change) (canvas.State, error) {
	next := state.Clone()
	switch typed := change.(type) {
	case AddElement:
		if next.ElementIndex(typed.Element.ID) >= 0 {
			return state, fmt.Errorf("%w: element %s already exists", ErrInapplicable, typed.Element.ID)
		}
		next.Elements = insertAt(next.Elements, typed.Index, typed.Element.Clone())
	case DeleteElement:
		index := next.ElementIndex(typed.Element.ID)
		if index < 0 {
			return state, fmt.Errorf("%w: element %s not found", ErrInapplicable, typed.Element.ID)
		}
		next.Elements = append(next.Elements[:index], next.Elements[index+1:]...)
	case UpdateElement:
		index := next.ElementIndex(typed.ElementID)
		if index < 0 {
			return state, fmt.Errorf("%w: element %s not found", ErrInapplicable, typed.ElementID)
		}
		next.Elements[index] = typed.After.Clone()
	case UpdateBackground:
		next.BackgroundImage = cloneString(typed.After)
	case UpdateSettings:
		next.Settings = typed.After
	case UpdateSeries:
		next.ElementSeries = applySeries(next.ElementSeries, typed)
	default:
		return state, fmt.Errorf("%w: unknown change %T", ErrInapplicable, change)
	}
	return next, nil
}

// Revert undoes a change against a copy of the state.
func Revert(state canvas.State, change Change) (canvas.State, error) {
	inverse, err := Inverse(change)
	if err != nil {
		return state, err
	}
	return Apply(state, inverse)
}

func applySeries(list []canvas.Series, change UpdateSeries) []canvas.Series {
	var targetID string
	switch {
	case change.Before != nil:
		targetID = change.Before.ID
	case change.After != nil:
		targetID = change.After.ID
	}
	position := -1
	for index, existing := range list {
		if existing.ID == targetID {
			position = index
			break
		}
	}
	switch {
	case change.After == nil:
		if position >= 0 {
			list = append(list[:position], list[position+1:]...)
		}
	case position >= 0:
		list[position] = change.After.Clone()
	default:
		list = insertAt(list, change.Index, change.After.Clone())
	}
	return list
}

func insertAt[T any](list []T, index int, value T) []T {
	if index < 0 || index > len(list) {
		index = len(list)
	}
	list = append(list, value)
	copy(list[index+1:], list[index:])
	list[index] = value
	return list
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
