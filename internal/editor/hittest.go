package editor

import (
	"sort"
	"unicode/utf8"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
)

// Fallback extents for elements that do not declare a size.
const (
	defaultElementWidth  = 200
	defaultElementHeight = 40
	defaultFontSize      = 24
	glyphWidthRatio      = 0.6
	lineHeightRatio      = 1.2
)

// Point is a pointer position in canvas coordinates.
type Point struct {
	X float64
	Y float64
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b Box) Contains(point Point) bool {
	return point.X >= b.MinX && point.X <= b.MaxX && point.Y >= b.MinY && point.Y <= b.MaxY
}

// BoundingBox returns the element's extent. Unsized text is measured from
// its content and font size.
func BoundingBox(element canvas.Element) Box {
	width := float64(defaultElementWidth)
	height := float64(defaultElementHeight)
	fontSize := element.FontSize
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}
	if element.Content != "" {
		width = float64(utf8.RuneCountInString(element.Content)) * fontSize * glyphWidthRatio
		height = fontSize * lineHeightRatio
	}
	if element.Width != nil {
		width = *element.Width
	}
	if element.Height != nil {
		height = *element.Height
	}
	return Box{MinX: element.X, MinY: element.Y, MaxX: element.X + width, MaxY: element.Y + height}
}

type indexedBox struct {
	element canvas.Element
	box     Box
}

// SpatialIndex holds element bounding boxes in render order.
type SpatialIndex struct {
	entries []indexedBox
}

// NewSpatialIndex orders elements by zIndex, keeping insertion order for ties.
func NewSpatialIndex(elements []canvas.Element) SpatialIndex {
	entries := make([]indexedBox, 0, len(elements))
	for _, element := range elements {
		entries = append(entries, indexedBox{element: element, box: BoundingBox(element)})
	}
	sort.SliceStable(entries, func(left, right int) bool {
		return entries[left].element.ZIndex < entries[right].element.ZIndex
	})
	return SpatialIndex{entries: entries}
}

// Hit returns the topmost element under the point.
func (index SpatialIndex) Hit(point Point) (canvas.Element, bool) {
	for position := len(index.entries) - 1; position >= 0; position-- {
		if index.entries[position].box.Contains(point) {
			return index.entries[position].element, true
		}
	}
	return canvas.Element{}, false
}

// HitTest returns the topmost element under the pointer.
func HitTest(point Point, elements []canvas.Element) (canvas.Element, bool) {
	return NewSpatialIndex(elements).Hit(point)
}
