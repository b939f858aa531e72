// Package series expands declarative element series into concrete,
// positioned canvas elements, one per ranked tournament record.
package series

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
)

// Record is one ranked player row from the tournament data source.
type Record struct {
	PlayerName   string             `json:"player_name"`
	TotalPoints  float64            `json:"total_points"`
	StandingRank int                `json:"standing_rank"`
	RoundScores  map[string]float64 `json:"round_scores,omitempty"`
}

// Generate expands the series over the records. The output is a pure
// function of its arguments: identical inputs yield identical ids,
// positions, and values.
func Generate(declaration canvas.Series, records []Record) []canvas.Element {
	ordered := sortRecords(records, declaration.SortBy, declaration.SortOrder)
	if declaration.MaxElements != nil && *declaration.MaxElements >= 0 && len(ordered) > *declaration.MaxElements {
		ordered = ordered[:*declaration.MaxElements]
	}

	field := FieldForSeries(declaration)
	elementType := elementTypeForField(field, declaration.BaseElement.Type)
	fallbackText := ""
	if declaration.BaseElement.DataBinding != nil {
		fallbackText = declaration.BaseElement.DataBinding.FallbackText
	}

	elements := make([]canvas.Element, 0, len(ordered))
	for index, record := range ordered {
		element := declaration.BaseElement.Clone()
		element.ID = fmt.Sprintf("%s-element-%d", declaration.ID, index)
		element.Type = elementType
		element.X, element.Y = Position(declaration, index)
		element.DataBinding = &canvas.DataBinding{
			Source:       canvas.BindingSourceSeries,
			Field:        field,
			SeriesID:     declaration.ID,
			ManualValue:  DeriveValue(record, declaration.Type, declaration.RoundID),
			FallbackText: fallbackText,
		}
		elements = append(elements, element)
	}
	return elements
}

// Position returns the coordinates of the index-th generated element.
func Position(declaration canvas.Series, index int) (float64, float64) {
	base := declaration.BaseElement
	spacing := declaration.Spacing
	offset := float64(index)
	switch spacing.Direction {
	case canvas.DirectionHorizontal:
		return base.X + offset*spacing.Horizontal, base.Y
	case canvas.DirectionGrid:
		columns := spacing.Columns
		if columns <= 0 {
			columns = 1
		}
		column := index % columns
		row := index / columns
		return base.X + float64(column)*spacing.Horizontal, base.Y + float64(row)*spacing.Vertical
	default:
		return base.X, base.Y + offset*spacing.Vertical
	}
}

// FieldForSeries maps a series type onto the record field it binds.
func FieldForSeries(declaration canvas.Series) string {
	switch declaration.Type {
	case canvas.SeriesTypePlayerNames:
		return canvas.FieldPlayerName
	case canvas.SeriesTypePlayerPlacements:
		return canvas.FieldStandingRank
	case canvas.SeriesTypeRoundScores:
		return canvas.FieldRoundScore
	case canvas.SeriesTypeScores:
		if declaration.RoundID != "" {
			return canvas.FieldRoundScore
		}
		return canvas.FieldTotalPoints
	default:
		return canvas.FieldTotalPoints
	}
}

// DeriveValue renders the record value a series of the given type displays.
// Round-bound series fall back to the running total when the round has no
// score yet.
func DeriveValue(record Record, seriesType canvas.SeriesType, roundID string) string {
	switch seriesType {
	case canvas.SeriesTypePlayerNames:
		return record.PlayerName
	case canvas.SeriesTypePlayerPlacements:
		return strconv.Itoa(record.StandingRank)
	case canvas.SeriesTypeRoundScores, canvas.SeriesTypeScores:
		if roundID != "" {
			if score, ok := record.RoundScores[roundID]; ok {
				return formatNumber(score)
			}
		}
		return formatNumber(record.TotalPoints)
	default:
		return formatNumber(record.TotalPoints)
	}
}

// ExpandState returns the render list for a state: every static element
// followed by the generated output of each auto-generating series.
func ExpandState(state canvas.State, records []Record) []canvas.Element {
	rendered := make([]canvas.Element, 0, len(state.Elements))
	for _, element := range state.Elements {
		rendered = append(rendered, element.Clone())
	}
	for _, declaration := range state.ElementSeries {
		if !declaration.AutoGenerate {
			continue
		}
		rendered = append(rendered, Generate(declaration, records)...)
	}
	return rendered
}

type indexedRecord struct {
	record Record
	index  int
}

func sortRecords(records []Record, sortBy canvas.SortField, order canvas.SortOrder) []Record {
	indexed := make([]indexedRecord, len(records))
	for index, record := range records {
		indexed[index] = indexedRecord{record: record, index: index}
	}
	descending := order != canvas.SortAsc
	sort.SliceStable(indexed, func(left, right int) bool {
		comparison := compareRecords(indexed[left].record, indexed[right].record, sortBy)
		if comparison == 0 {
			return indexed[left].index < indexed[right].index
		}
		if descending {
			return comparison > 0
		}
		return comparison < 0
	})
	ordered := make([]Record, len(indexed))
	for index, entry := range indexed {
		ordered[index] = entry.record
	}
	return ordered
}

func compareRecords(left, right Record, sortBy canvas.SortField) int {
	switch sortBy {
	case canvas.SortByPlayerName:
		return strings.Compare(strings.ToLower(left.PlayerName), strings.ToLower(right.PlayerName))
	case canvas.SortByStandingRank:
		return compareInts(left.StandingRank, right.StandingRank)
	default:
		switch {
		case left.TotalPoints < right.TotalPoints:
			return -1
		case left.TotalPoints > right.TotalPoints:
			return 1
		default:
			return 0
		}
	}
}

func compareInts(left, right int) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func elementTypeForField(field string, fallback canvas.ElementType) canvas.ElementType {
	switch field {
	case canvas.FieldPlayerName:
		return canvas.ElementTypePlayerName
	case canvas.FieldTotalPoints:
		return canvas.ElementTypePlayerScore
	case canvas.FieldStandingRank:
		return canvas.ElementTypePlayerPlacement
	case canvas.FieldRoundScore:
		return canvas.ElementTypeRoundScore
	default:
		return fallback
	}
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
