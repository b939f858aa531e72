package series

import (
	"context"
	"reflect"
	"strconv"
	"testing"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func scoreSeries() canvas.Series {
	return canvas.Series{
		ID:           "scores",
		Type:         canvas.SeriesTypePlayerScores,
		BaseElement:  canvas.Element{ID: "scores-base", Type: canvas.ElementTypePlayerScore, X: 100, Y: 200, FontSize: 32},
		Spacing:      canvas.Spacing{Horizontal: 50, Vertical: 40, Direction: canvas.DirectionVertical},
		AutoGenerate: true,
		SortBy:       canvas.SortByTotalPoints,
		SortOrder:    canvas.SortDesc,
	}
}

func TestGenerateOrdersByTotalPointsDescending(t *testing.T) {
	records := []Record{
		{PlayerName: "Ana", TotalPoints: 30},
		{PlayerName: "Bo", TotalPoints: 10},
		{PlayerName: "Cy", TotalPoints: 20},
	}
	elements := Generate(scoreSeries(), records)
	expected := []string{"30", "20", "10"}
	if len(elements) != len(expected) {
		t.Fatalf("expected %d elements, got %d", len(expected), len(elements))
	}
	for index, value := range expected {
		if elements[index].DataBinding.ManualValue != value {
			t.Fatalf("element %d: expected %s, got %s", index, value, elements[index].DataBinding.ManualValue)
		}
	}
}

func TestGenerateSortsEveryFieldAndOrderKeepingTiesStable(t *testing.T) {
	records := []Record{
		{PlayerName: "bo", TotalPoints: 20, StandingRank: 2},
		{PlayerName: "Ana", TotalPoints: 10, StandingRank: 3},
		{PlayerName: "cy", TotalPoints: 20, StandingRank: 1},
		{PlayerName: "ana", TotalPoints: 5, StandingRank: 3},
		{PlayerName: "Dee", TotalPoints: 10, StandingRank: 4},
	}
	cases := []struct {
		name     string
		sortBy   canvas.SortField
		order    canvas.SortOrder
		expected []string
	}{
		{name: "total-desc", sortBy: canvas.SortByTotalPoints, order: canvas.SortDesc, expected: []string{"bo", "cy", "Ana", "Dee", "ana"}},
		{name: "total-asc", sortBy: canvas.SortByTotalPoints, order: canvas.SortAsc, expected: []string{"ana", "Ana", "Dee", "bo", "cy"}},
		{name: "name-asc", sortBy: canvas.SortByPlayerName, order: canvas.SortAsc, expected: []string{"Ana", "ana", "bo", "cy", "Dee"}},
		{name: "name-desc", sortBy: canvas.SortByPlayerName, order: canvas.SortDesc, expected: []string{"Dee", "cy", "bo", "Ana", "ana"}},
		{name: "rank-asc", sortBy: canvas.SortByStandingRank, order: canvas.SortAsc, expected: []string{"cy", "bo", "Ana", "ana", "Dee"}},
		{name: "rank-desc", sortBy: canvas.SortByStandingRank, order: canvas.SortDesc, expected: []string{"Dee", "Ana", "ana", "bo", "cy"}},
		{name: "defaults", expected: []string{"bo", "cy", "Ana", "Dee", "ana"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			declaration := canvas.Series{
				ID:          "names",
				Type:        canvas.SeriesTypePlayerNames,
				BaseElement: canvas.Element{Type: canvas.ElementTypePlayerName},
				Spacing:     canvas.Spacing{Vertical: 10, Direction: canvas.DirectionVertical},
				SortBy:      tc.sortBy,
				SortOrder:   tc.order,
			}
			elements := Generate(declaration, records)
			names := make([]string, 0, len(elements))
			for _, element := range elements {
				names = append(names, element.DataBinding.ManualValue)
			}
			if !reflect.DeepEqual(names, tc.expected) {
				t.Fatalf("expected order %v, got %v", tc.expected, names)
			}
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	records := MockRecords(12)
	first := Generate(scoreSeries(), records)
	second := Generate(scoreSeries(), records)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output across calls")
	}
	for index, element := range first {
		expectedID := "scores-element-" + strconv.Itoa(index)
		if element.ID != expectedID {
			t.Fatalf("expected id %s, got %s", expectedID, element.ID)
		}
	}
}

func TestGenerateBreaksTiesByOriginalOrder(t *testing.T) {
	records := []Record{
		{PlayerName: "first", TotalPoints: 10},
		{PlayerName: "second", TotalPoints: 10},
		{PlayerName: "third", TotalPoints: 10},
	}
	declaration := scoreSeries()
	declaration.Type = canvas.SeriesTypePlayerNames
	elements := Generate(declaration, records)
	for index, name := range []string{"first", "second", "third"} {
		if elements[index].DataBinding.ManualValue != name {
			t.Fatalf("expected stable tie order, got %s at %d", elements[index].DataBinding.ManualValue, index)
		}
	}
}

func TestGeneratePositionsAndBinding(t *testing.T) {
	declaration := scoreSeries()
	elements := Generate(declaration, MockRecords(3))
	for index, element := range elements {
		if element.X != 100 || element.Y != 200+float64(index)*40 {
			t.Fatalf("element %d at unexpected position %v,%v", index, element.X, element.Y)
		}
		if element.FontSize != 32 {
			t.Fatalf("expected base style to carry over")
		}
		binding := element.DataBinding
		if binding.Source != canvas.BindingSourceSeries || binding.SeriesID != "scores" || binding.Field != canvas.FieldTotalPoints {
			t.Fatalf("unexpected binding %#v", binding)
		}
	}

	declaration.Spacing.Direction = canvas.DirectionHorizontal
	elements = Generate(declaration, MockRecords(3))
	if elements[2].X != 200 || elements[2].Y != 200 {
		t.Fatalf("unexpected horizontal position %v,%v", elements[2].X, elements[2].Y)
	}

	declaration.Spacing.Direction = canvas.DirectionGrid
	declaration.Spacing.Columns = 2
	elements = Generate(declaration, MockRecords(3))
	if elements[1].X != 150 || elements[1].Y != 200 {
		t.Fatalf("unexpected grid position for index 1: %v,%v", elements[1].X, elements[1].Y)
	}
	if elements[2].X != 100 || elements[2].Y != 240 {
		t.Fatalf("unexpected grid position for index 2: %v,%v", elements[2].X, elements[2].Y)
	}
}

func TestGenerateTruncatesToMaxElements(t *testing.T) {
	declaration := scoreSeries()
	limit := 2
	declaration.MaxElements = &limit
	elements := Generate(declaration, MockRecords(5))
	if len(elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elements))
	}
}

func TestGenerateRoundScoreFallsBackToTotal(t *testing.T) {
	declaration := scoreSeries()
	declaration.Type = canvas.SeriesTypeRoundScores
	declaration.RoundID = "round_4"
	records := []Record{
		{PlayerName: "played", TotalPoints: 20, RoundScores: map[string]float64{"round_4": 7}},
		{PlayerName: "pending", TotalPoints: 15, RoundScores: map[string]float64{"round_1": 3}},
	}
	elements := Generate(declaration, records)
	if elements[0].DataBinding.ManualValue != "7" {
		t.Fatalf("expected round score, got %s", elements[0].DataBinding.ManualValue)
	}
	if elements[1].DataBinding.ManualValue != "15" {
		t.Fatalf("expected total fallback, got %s", elements[1].DataBinding.ManualValue)
	}
	if elements[0].Type != canvas.ElementTypeRoundScore || elements[0].DataBinding.Field != canvas.FieldRoundScore {
		t.Fatalf("expected round score binding, got %s/%s", elements[0].Type, elements[0].DataBinding.Field)
	}
}

func TestExpandStateSkipsManualSeries(t *testing.T) {
	manual := scoreSeries()
	manual.ID = "manual"
	manual.AutoGenerate = false
	state := canvas.State{
		Elements:      []canvas.Element{{ID: "title", Type: canvas.ElementTypeText}},
		ElementSeries: []canvas.Series{scoreSeries(), manual},
	}
	rendered := ExpandState(state, MockRecords(2))
	if len(rendered) != 3 {
		t.Fatalf("expected title plus two generated elements, got %d", len(rendered))
	}
	if rendered[0].ID != "title" || rendered[1].ID != "scores-element-0" {
		t.Fatalf("unexpected render order %s, %s", rendered[0].ID, rendered[1].ID)
	}
}

func TestStandingsSourceReadsRankedRecords(t *testing.T) {
	database, err := gorm.Open(sqlite.Open("file:standings?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&Standing{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	rows := []Standing{
		{TournamentID: "t-1", PlayerName: "second", TotalPoints: 12, StandingRank: 2},
		{TournamentID: "t-1", PlayerName: "first", TotalPoints: 20, StandingRank: 1, RoundScores: datatypes.JSON(`{"round_1": 8}`)},
		{TournamentID: "t-2", PlayerName: "other", TotalPoints: 99, StandingRank: 1},
	}
	if err := database.Create(&rows).Error; err != nil {
		t.Fatalf("failed to seed standings: %v", err)
	}

	source, err := NewStandingsSource(database, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}
	records, err := source.RankedRecords(context.Background(), Query{TournamentID: "t-1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 2 || records[0].PlayerName != "first" || records[1].PlayerName != "second" {
		t.Fatalf("unexpected records %#v", records)
	}
	if records[0].RoundScores["round_1"] != 8 {
		t.Fatalf("expected round scores to decode, got %#v", records[0].RoundScores)
	}
	if _, err := source.RankedRecords(context.Background(), Query{}); err == nil {
		t.Fatalf("expected error for missing tournament id")
	}
}

func TestPreviewSourceHonorsLimit(t *testing.T) {
	records, err := PreviewSource{Count: 10}.RankedRecords(context.Background(), Query{Limit: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if !reflect.DeepEqual(records, MockRecords(4)) {
		t.Fatalf("expected preview records to be deterministic")
	}
}
