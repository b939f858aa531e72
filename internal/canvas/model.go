package canvas

import (
	"errors"
	"fmt"
	"strings"
)

// ElementType enumerates the kinds of elements a canvas can hold.
type ElementType string

const (
	// ElementTypeText is a static text element with no data binding.
	ElementTypeText ElementType = "text"
	// ElementTypePlayerName renders a player name from bound data.
	ElementTypePlayerName ElementType = "player_name"
	// ElementTypePlayerScore renders a player's total points.
	ElementTypePlayerScore ElementType = "player_score"
	// ElementTypePlayerPlacement renders a player's standing rank.
	ElementTypePlayerPlacement ElementType = "player_placement"
	// ElementTypeRoundScore renders a player's score for a single round.
	ElementTypeRoundScore ElementType = "round_score"
)

// Dynamic reports whether elements of this type must carry a data binding.
func (t ElementType) Dynamic() bool {
	switch t {
	case ElementTypePlayerName, ElementTypePlayerScore, ElementTypePlayerPlacement, ElementTypeRoundScore:
		return true
	default:
		return false
	}
}

// Known reports whether the type is one the editor understands.
func (t ElementType) Known() bool {
	return t == ElementTypeText || t.Dynamic()
}

// Binding sources.
const (
	BindingSourceSeries = "series"
	BindingSourceManual = "manual"
)

// Binding fields produced for dynamic element types.
const (
	FieldPlayerName   = "player_name"
	FieldTotalPoints  = "total_points"
	FieldStandingRank = "standing_rank"
	FieldRoundScore   = "round_score"
)

// FieldForElementType returns the record field a dynamic element type reads.
func FieldForElementType(t ElementType) string {
	switch t {
	case ElementTypePlayerName:
		return FieldPlayerName
	case ElementTypePlayerScore:
		return FieldTotalPoints
	case ElementTypePlayerPlacement:
		return FieldStandingRank
	case ElementTypeRoundScore:
		return FieldRoundScore
	default:
		return ""
	}
}

// DataBinding ties a dynamic element to a record field.
type DataBinding struct {
	Source       string `json:"source"`
	Field        string `json:"field"`
	SeriesID     string `json:"seriesId,omitempty"`
	ManualValue  string `json:"manualValue,omitempty"`
	FallbackText string `json:"fallbackText,omitempty"`
}

// Element is a single positioned item on the canvas.
type Element struct {
	ID          string       `json:"id"`
	Type        ElementType  `json:"type"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	Width       *float64     `json:"width,omitempty"`
	Height      *float64     `json:"height,omitempty"`
	Content     string       `json:"content,omitempty"`
	FontFamily  string       `json:"fontFamily,omitempty"`
	FontSize    float64      `json:"fontSize,omitempty"`
	FontWeight  string       `json:"fontWeight,omitempty"`
	Color       string       `json:"color,omitempty"`
	TextAlign   string       `json:"textAlign,omitempty"`
	Rotation    float64      `json:"rotation,omitempty"`
	Opacity     *float64     `json:"opacity,omitempty"`
	ZIndex      int          `json:"zIndex,omitempty"`
	DataBinding *DataBinding `json:"dataBinding,omitempty"`
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	clone := e
	if e.Width != nil {
		clone.Width = float64Ptr(*e.Width)
	}
	if e.Height != nil {
		clone.Height = float64Ptr(*e.Height)
	}
	if e.Opacity != nil {
		clone.Opacity = float64Ptr(*e.Opacity)
	}
	if e.DataBinding != nil {
		binding := *e.DataBinding
		clone.DataBinding = &binding
	}
	return clone
}

// Direction controls how a series lays out its generated elements.
type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
	DirectionGrid       Direction = "grid"
)

// Spacing describes the offset between consecutive generated elements.
type Spacing struct {
	Horizontal float64   `json:"horizontal"`
	Vertical   float64   `json:"vertical"`
	Direction  Direction `json:"direction"`
	Columns    int       `json:"columns,omitempty"`
}

// SeriesType enumerates the data a series expands.
type SeriesType string

const (
	SeriesTypePlayerNames      SeriesType = "player_names"
	SeriesTypePlayerScores     SeriesType = "player_scores"
	SeriesTypePlayerPlacements SeriesType = "player_placements"
	SeriesTypeRoundScores      SeriesType = "round_scores"
	// SeriesTypeScores behaves like player_scores unless the series names a round.
	SeriesTypeScores SeriesType = "scores"
)

// SortField names the record field a series sorts by.
type SortField string

const (
	SortByTotalPoints  SortField = "total_points"
	SortByPlayerName   SortField = "player_name"
	SortByStandingRank SortField = "standing_rank"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Series is a declarative rule expanded into one element per record.
type Series struct {
	ID           string     `json:"id"`
	Type         SeriesType `json:"type"`
	BaseElement  Element    `json:"baseElement"`
	Spacing      Spacing    `json:"spacing"`
	AutoGenerate bool       `json:"autoGenerate"`
	MaxElements  *int       `json:"maxElements,omitempty"`
	SortBy       SortField  `json:"sortBy"`
	SortOrder    SortOrder  `json:"sortOrder"`
	RoundID      string     `json:"roundId,omitempty"`
}

// Clone returns a deep copy of the series.
func (s Series) Clone() Series {
	clone := s
	clone.BaseElement = s.BaseElement.Clone()
	if s.MaxElements != nil {
		limit := *s.MaxElements
		clone.MaxElements = &limit
	}
	return clone
}

// Settings holds canvas-wide dimensions and background color.
type Settings struct {
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	BackgroundColor string  `json:"backgroundColor"`
}

// Preview modes.
const (
	PreviewModeMock = "mock"
	PreviewModeLive = "live"
)

// PreviewConfig selects the data used when rendering series previews.
type PreviewConfig struct {
	Mode         string `json:"mode"`
	MockCount    int    `json:"mockCount"`
	TournamentID string `json:"tournamentId,omitempty"`
	RoundID      string `json:"roundId,omitempty"`
}

// State is the complete in-memory canvas document.
type State struct {
	Elements        []Element     `json:"elements"`
	ElementSeries   []Series      `json:"elementSeries"`
	Settings        Settings      `json:"settings"`
	BackgroundImage *string       `json:"backgroundImage"`
	PreviewConfig   PreviewConfig `json:"previewConfig"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	clone := s
	clone.Elements = make([]Element, len(s.Elements))
	for index, element := range s.Elements {
		clone.Elements[index] = element.Clone()
	}
	clone.ElementSeries = make([]Series, len(s.ElementSeries))
	for index, series := range s.ElementSeries {
		clone.ElementSeries[index] = series.Clone()
	}
	if s.BackgroundImage != nil {
		image := *s.BackgroundImage
		clone.BackgroundImage = &image
	}
	return clone
}

// ElementIndex returns the position of the element with the given id, or -1.
func (s State) ElementIndex(id string) int {
	for index, element := range s.Elements {
		if element.ID == id {
			return index
		}
	}
	return -1
}

// SeriesIndex returns the position of the series with the given id, or -1.
func (s State) SeriesIndex(id string) int {
	for index, series := range s.ElementSeries {
		if series.ID == id {
			return index
		}
	}
	return -1
}

var (
	// ErrInvalidElement indicates an element violates the binding invariant.
	ErrInvalidElement = errors.New("canvas: invalid element")
	// ErrInvalidCanvasID indicates a canvas identifier is empty or too long.
	ErrInvalidCanvasID = errors.New("canvas: invalid canvas id")
)

const maxIdentifierLength = 190

// CanvasID is a validated canvas identifier.
type CanvasID string

// NewCanvasID validates raw input and returns a CanvasID.
func NewCanvasID(rawInput string) (CanvasID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCanvasID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCanvasID, maxIdentifierLength)
	}
	return CanvasID(trimmed), nil
}

// String returns the underlying identifier.
func (id CanvasID) String() string {
	return string(id)
}

// ValidateElement checks the binding invariant: dynamic elements carry a
// binding, static elements never do.
func ValidateElement(element Element) error {
	if strings.TrimSpace(element.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidElement)
	}
	if !element.Type.Known() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, element.Type)
	}
	if element.Type.Dynamic() && element.DataBinding == nil {
		return fmt.Errorf("%w: dynamic element %s has no data binding", ErrInvalidElement, element.ID)
	}
	if !element.Type.Dynamic() && element.DataBinding != nil {
		return fmt.Errorf("%w: static element %s has a data binding", ErrInvalidElement, element.ID)
	}
	return nil
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}
