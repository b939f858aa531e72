package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Document defaults.
const (
	DefaultWidth           = 5000
	DefaultHeight          = 5000
	DefaultBackgroundColor = "#000000"
	DefaultMockCount       = 8
	DefaultSpacing         = 60
)

// SerializationError lists the fields Decode replaced with defaults.
type SerializationError struct {
	Fields []string
	Cause  error
}

func (e *SerializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("canvas: recovered malformed document (%s): %v", strings.Join(e.Fields, ", "), e.Cause)
	}
	return fmt.Sprintf("canvas: recovered malformed document (%s)", strings.Join(e.Fields, ", "))
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// DefaultState returns an empty canvas with every documented default applied.
func DefaultState() State {
	return Normalize(State{})
}

// Decode parses a persisted document. The returned state is always usable:
// malformed or missing fields fall back to their defaults and are reported
// through a *SerializationError rather than aborting the decode.
func Decode(raw []byte) (State, error) {
	recovered := &fieldRecorder{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return DefaultState(), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var document map[string]any
	if err := decoder.Decode(&document); err != nil {
		return DefaultState(), &SerializationError{Fields: []string{"document"}, Cause: err}
	}
	if document == nil {
		return DefaultState(), nil
	}

	state := State{
		Elements:        decodeElements(document["elements"], "elements", recovered),
		ElementSeries:   decodeSeriesList(document["elementSeries"], recovered),
		Settings:        decodeSettings(document["settings"], recovered),
		BackgroundImage: decodeBackgroundImage(document["backgroundImage"], recovered),
		PreviewConfig:   decodePreviewConfig(document["previewConfig"], recovered),
	}
	state, dropped := normalize(state)
	for _, field := range dropped {
		recovered.add(field)
	}
	if len(recovered.fields) > 0 {
		return state, &SerializationError{Fields: recovered.fields}
	}
	return state, nil
}

// Encode renders the canonical JSON form of the normalized state.
func Encode(state State) ([]byte, error) {
	normalized := Normalize(state)
	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canvas: encode state: %w", err)
	}
	return payload, nil
}

// Normalize applies every documented default and enforces the element
// binding invariant. Decode(Encode(s)) equals Normalize(s).
func Normalize(state State) State {
	normalized, _ := normalize(state)
	return normalized
}

// normalize also returns the paths of entries dropped as duplicate ids.
func normalize(state State) (State, []string) {
	normalized := state.Clone()
	var dropped []string
	if normalized.Elements == nil {
		normalized.Elements = []Element{}
	}
	taken := explicitIDs(len(normalized.Elements), func(index int) string { return normalized.Elements[index].ID })
	seen := make(map[string]struct{}, len(normalized.Elements))
	elements := make([]Element, 0, len(normalized.Elements))
	for index, element := range normalized.Elements {
		element = normalizeElement(element, fallbackID(element.ID, fmt.Sprintf("element-%d", index), taken))
		if _, duplicate := seen[element.ID]; duplicate {
			dropped = append(dropped, fmt.Sprintf("elements[%d].id", index))
			continue
		}
		seen[element.ID] = struct{}{}
		elements = append(elements, element)
	}
	normalized.Elements = elements

	seriesTaken := explicitIDs(len(normalized.ElementSeries), func(index int) string { return normalized.ElementSeries[index].ID })
	seriesSeen := make(map[string]struct{}, len(normalized.ElementSeries))
	seriesList := make([]Series, 0, len(normalized.ElementSeries))
	for index, series := range normalized.ElementSeries {
		series = normalizeSeries(series, fallbackID(series.ID, fmt.Sprintf("series-%d", index), seriesTaken))
		if _, duplicate := seriesSeen[series.ID]; duplicate {
			dropped = append(dropped, fmt.Sprintf("elementSeries[%d].id", index))
			continue
		}
		seriesSeen[series.ID] = struct{}{}
		seriesList = append(seriesList, series)
	}
	normalized.ElementSeries = seriesList

	if !positiveFinite(normalized.Settings.Width) {
		normalized.Settings.Width = DefaultWidth
	}
	if !positiveFinite(normalized.Settings.Height) {
		normalized.Settings.Height = DefaultHeight
	}
	normalized.Settings.BackgroundColor = strings.TrimSpace(normalized.Settings.BackgroundColor)
	if normalized.Settings.BackgroundColor == "" {
		normalized.Settings.BackgroundColor = DefaultBackgroundColor
	}

	if normalized.BackgroundImage != nil && strings.TrimSpace(*normalized.BackgroundImage) == "" {
		normalized.BackgroundImage = nil
	}

	switch normalized.PreviewConfig.Mode {
	case PreviewModeMock, PreviewModeLive:
	default:
		normalized.PreviewConfig.Mode = PreviewModeMock
	}
	if normalized.PreviewConfig.MockCount <= 0 {
		normalized.PreviewConfig.MockCount = DefaultMockCount
	}
	return normalized, dropped
}

// explicitIDs collects the non-blank ids so generated ids never collide with
// an id that is already persisted.
func explicitIDs(count int, idAt func(int) string) map[string]struct{} {
	taken := make(map[string]struct{}, count)
	for index := 0; index < count; index++ {
		if id := strings.TrimSpace(idAt(index)); id != "" {
			taken[id] = struct{}{}
		}
	}
	return taken
}

// fallbackID returns "" when id is set, otherwise the first free variant of base.
func fallbackID(id, base string, taken map[string]struct{}) string {
	if strings.TrimSpace(id) != "" {
		return ""
	}
	candidate := base
	for suffix := 1; ; suffix++ {
		if _, used := taken[candidate]; !used {
			break
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
	taken[candidate] = struct{}{}
	return candidate
}

func normalizeElement(element Element, fallbackID string) Element {
	element.ID = strings.TrimSpace(element.ID)
	if element.ID == "" {
		element.ID = fallbackID
	}
	if !element.Type.Known() {
		element.Type = ElementTypeText
	}
	element.X = finiteOr(element.X, 0)
	element.Y = finiteOr(element.Y, 0)
	element.Rotation = finiteOr(element.Rotation, 0)
	if !finite(element.FontSize) || element.FontSize < 0 {
		element.FontSize = 0
	}
	if element.Width != nil && !positiveFinite(*element.Width) {
		element.Width = nil
	}
	if element.Height != nil && !positiveFinite(*element.Height) {
		element.Height = nil
	}
	if element.Opacity != nil && (!finite(*element.Opacity) || *element.Opacity < 0 || *element.Opacity > 1) {
		element.Opacity = nil
	}
	if element.Type.Dynamic() {
		if element.DataBinding == nil {
			element.DataBinding = &DataBinding{Source: BindingSourceManual}
		}
		if element.DataBinding.Source == "" {
			element.DataBinding.Source = BindingSourceManual
		}
		if element.DataBinding.Field == "" {
			element.DataBinding.Field = FieldForElementType(element.Type)
		}
	} else {
		element.DataBinding = nil
	}
	return element
}

func normalizeSeries(series Series, fallbackID string) Series {
	series.ID = strings.TrimSpace(series.ID)
	if series.ID == "" {
		series.ID = fallbackID
	}
	switch series.Type {
	case SeriesTypePlayerNames, SeriesTypePlayerScores, SeriesTypePlayerPlacements, SeriesTypeRoundScores, SeriesTypeScores:
	default:
		series.Type = SeriesTypePlayerNames
	}
	series.BaseElement = normalizeElement(series.BaseElement, series.ID+"-base")
	switch series.Spacing.Direction {
	case DirectionHorizontal, DirectionVertical, DirectionGrid:
	default:
		series.Spacing.Direction = DirectionVertical
	}
	series.Spacing.Horizontal = finiteOr(series.Spacing.Horizontal, 0)
	series.Spacing.Vertical = finiteOr(series.Spacing.Vertical, 0)
	if series.Spacing.Columns < 0 {
		series.Spacing.Columns = 0
	}
	if series.MaxElements != nil && *series.MaxElements <= 0 {
		series.MaxElements = nil
	}
	switch series.SortBy {
	case SortByTotalPoints, SortByPlayerName, SortByStandingRank:
	default:
		series.SortBy = SortByTotalPoints
	}
	switch series.SortOrder {
	case SortAsc, SortDesc:
	default:
		series.SortOrder = SortDesc
	}
	return series
}

type fieldRecorder struct {
	fields []string
}

func (r *fieldRecorder) add(field string) {
	r.fields = append(r.fields, field)
}

func decodeElements(value any, path string, recovered *fieldRecorder) []Element {
	if value == nil {
		return []Element{}
	}
	items, ok := value.([]any)
	if !ok {
		recovered.add(path)
		return []Element{}
	}
	elements := make([]Element, 0, len(items))
	for index, item := range items {
		object, ok := item.(map[string]any)
		if !ok {
			recovered.add(fmt.Sprintf("%s[%d]", path, index))
			continue
		}
		elements = append(elements, decodeElement(object, fmt.Sprintf("%s[%d]", path, index), recovered))
	}
	return elements
}

func decodeElement(object map[string]any, path string, recovered *fieldRecorder) Element {
	element := Element{
		ID:         stringField(object, "id", path, recovered),
		Type:       ElementType(stringField(object, "type", path, recovered)),
		X:          numberField(object, "x", 0, path, recovered),
		Y:          numberField(object, "y", 0, path, recovered),
		Width:      optionalNumberField(object, "width", path, recovered),
		Height:     optionalNumberField(object, "height", path, recovered),
		Content:    stringField(object, "content", path, recovered),
		FontFamily: stringField(object, "fontFamily", path, recovered),
		FontSize:   numberField(object, "fontSize", 0, path, recovered),
		FontWeight: stringField(object, "fontWeight", path, recovered),
		Color:      stringField(object, "color", path, recovered),
		TextAlign:  stringField(object, "textAlign", path, recovered),
		Rotation:   numberField(object, "rotation", 0, path, recovered),
		Opacity:    optionalNumberField(object, "opacity", path, recovered),
		ZIndex:     int(numberField(object, "zIndex", 0, path, recovered)),
	}
	if raw, present := object["dataBinding"]; present && raw != nil {
		bindingObject, ok := raw.(map[string]any)
		if !ok {
			recovered.add(path + ".dataBinding")
		} else {
			bindingPath := path + ".dataBinding"
			element.DataBinding = &DataBinding{
				Source:       stringField(bindingObject, "source", bindingPath, recovered),
				Field:        stringField(bindingObject, "field", bindingPath, recovered),
				SeriesID:     stringField(bindingObject, "seriesId", bindingPath, recovered),
				ManualValue:  scalarString(bindingObject["manualValue"]),
				FallbackText: stringField(bindingObject, "fallbackText", bindingPath, recovered),
			}
		}
	}
	return element
}

func decodeSeriesList(value any, recovered *fieldRecorder) []Series {
	if value == nil {
		return []Series{}
	}
	items, ok := value.([]any)
	if !ok {
		recovered.add("elementSeries")
		return []Series{}
	}
	seriesList := make([]Series, 0, len(items))
	for index, item := range items {
		path := fmt.Sprintf("elementSeries[%d]", index)
		object, ok := item.(map[string]any)
		if !ok {
			recovered.add(path)
			continue
		}
		series := Series{
			ID:           stringField(object, "id", path, recovered),
			Type:         SeriesType(stringField(object, "type", path, recovered)),
			AutoGenerate: boolField(object, "autoGenerate", path, recovered),
			SortBy:       SortField(stringField(object, "sortBy", path, recovered)),
			SortOrder:    SortOrder(stringField(object, "sortOrder", path, recovered)),
			RoundID:      stringField(object, "roundId", path, recovered),
		}
		if base, ok := object["baseElement"].(map[string]any); ok {
			series.BaseElement = decodeElement(base, path+".baseElement", recovered)
		} else if object["baseElement"] != nil {
			recovered.add(path + ".baseElement")
		}
		if spacing, ok := object["spacing"].(map[string]any); ok {
			spacingPath := path + ".spacing"
			series.Spacing = Spacing{
				Horizontal: numberField(spacing, "horizontal", 0, spacingPath, recovered),
				Vertical:   numberField(spacing, "vertical", DefaultSpacing, spacingPath, recovered),
				Direction:  Direction(stringField(spacing, "direction", spacingPath, recovered)),
				Columns:    int(numberField(spacing, "columns", 0, spacingPath, recovered)),
			}
		} else {
			if object["spacing"] != nil {
				recovered.add(path + ".spacing")
			}
			series.Spacing = Spacing{Vertical: DefaultSpacing, Direction: DirectionVertical}
		}
		if limit := optionalNumberField(object, "maxElements", path, recovered); limit != nil {
			value := int(*limit)
			series.MaxElements = &value
		}
		seriesList = append(seriesList, series)
	}
	return seriesList
}

func decodeSettings(value any, recovered *fieldRecorder) Settings {
	object, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			recovered.add("settings")
		}
		return Settings{}
	}
	return Settings{
		Width:           numberField(object, "width", DefaultWidth, "settings", recovered),
		Height:          numberField(object, "height", DefaultHeight, "settings", recovered),
		BackgroundColor: stringField(object, "backgroundColor", "settings", recovered),
	}
}

func decodeBackgroundImage(value any, recovered *fieldRecorder) *string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return &typed
	default:
		recovered.add("backgroundImage")
		return nil
	}
}

func decodePreviewConfig(value any, recovered *fieldRecorder) PreviewConfig {
	object, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			recovered.add("previewConfig")
		}
		return PreviewConfig{}
	}
	return PreviewConfig{
		Mode:         stringField(object, "mode", "previewConfig", recovered),
		MockCount:    int(numberField(object, "mockCount", DefaultMockCount, "previewConfig", recovered)),
		TournamentID: stringField(object, "tournamentId", "previewConfig", recovered),
		RoundID:      stringField(object, "roundId", "previewConfig", recovered),
	}
}

func stringField(object map[string]any, key, path string, recovered *fieldRecorder) string {
	value, present := object[key]
	if !present || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		recovered.add(path + "." + key)
		return ""
	}
	return text
}

func boolField(object map[string]any, key, path string, recovered *fieldRecorder) bool {
	value, present := object[key]
	if !present || value == nil {
		return false
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			recovered.add(path + "." + key)
			return false
		}
		return parsed
	default:
		recovered.add(path + "." + key)
		return false
	}
}

func numberField(object map[string]any, key string, fallback float64, path string, recovered *fieldRecorder) float64 {
	value, present := object[key]
	if !present || value == nil {
		return fallback
	}
	parsed, ok := coerceNumber(value)
	if !ok {
		recovered.add(path + "." + key)
		return fallback
	}
	return parsed
}

func optionalNumberField(object map[string]any, key, path string, recovered *fieldRecorder) *float64 {
	value, present := object[key]
	if !present || value == nil {
		return nil
	}
	parsed, ok := coerceNumber(value)
	if !ok {
		recovered.add(path + "." + key)
		return nil
	}
	return &parsed
}

func coerceNumber(value any) (float64, bool) {
	var parsed float64
	var err error
	switch typed := value.(type) {
	case json.Number:
		parsed, err = typed.Float64()
	case string:
		parsed, err = strconv.ParseFloat(strings.TrimSpace(typed), 64)
	case float64:
		parsed = typed
	default:
		return 0, false
	}
	if err != nil || !finite(parsed) {
		return 0, false
	}
	return parsed, true
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

func positiveFinite(value float64) bool {
	return finite(value) && value > 0
}

func finiteOr(value, fallback float64) float64 {
	if !finite(value) {
		return fallback
	}
	return value
}
