package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Query selects the ranked records a series preview should render.
type Query struct {
	TournamentID string
	Limit        int
}

// RecordSource supplies ranked tournament records.
type RecordSource interface {
	RankedRecords(ctx context.Context, query Query) ([]Record, error)
}

// PreviewSource produces deterministic synthetic standings so previews
// never depend on live data.
type PreviewSource struct {
	Count int
}

// RankedRecords returns Count synthetic records, ignoring the tournament id.
func (source PreviewSource) RankedRecords(_ context.Context, query Query) ([]Record, error) {
	count := source.Count
	if query.Limit > 0 && (count <= 0 || query.Limit < count) {
		count = query.Limit
	}
	return MockRecords(count), nil
}

// MockRecords builds count synthetic records ranked by descending points.
// Only every other player has a round_3 score so round fallbacks show up
// in previews.
func MockRecords(count int) []Record {
	if count <= 0 {
		return []Record{}
	}
	records := make([]Record, 0, count)
	for index := 0; index < count; index++ {
		rank := index + 1
		roundOne := float64(8 - index%8)
		roundTwo := float64(1 + (index*3)%8)
		scores := map[string]float64{
			"round_1": roundOne,
			"round_2": roundTwo,
		}
		total := roundOne + roundTwo
		if index%2 == 0 {
			roundThree := float64(1 + (index*5)%8)
			scores["round_3"] = roundThree
			total += roundThree
		}
		records = append(records, Record{
			PlayerName:   fmt.Sprintf("Player %d", rank),
			TotalPoints:  float64(count*10-index*10) + total,
			StandingRank: rank,
			RoundScores:  scores,
		})
	}
	return records
}

// Standing is the persisted tournament standings row.
type Standing struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TournamentID string         `gorm:"column:tournament_id;size:190;not null;index:idx_standings_tournament_rank,priority:1"`
	PlayerName   string         `gorm:"column:player_name;size:190;not null"`
	TotalPoints  float64        `gorm:"column:total_points;not null;default:0"`
	StandingRank int            `gorm:"column:standing_rank;not null;index:idx_standings_tournament_rank,priority:2"`
	RoundScores  datatypes.JSON `gorm:"column:round_scores"`
}

// TableName provides the explicit table binding for GORM.
func (Standing) TableName() string {
	return "tournament_standings"
}

var (
	errMissingDatabase   = errors.New("series: database handle is required")
	errMissingTournament = errors.New("series: tournament id is required")
)

// StandingsSource reads ranked records from the standings table.
type StandingsSource struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStandingsSource constructs a gorm-backed record source.
func NewStandingsSource(db *gorm.DB, logger *zap.Logger) (*StandingsSource, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandingsSource{db: db, logger: logger}, nil
}

// RankedRecords returns the tournament's standings ordered by rank.
func (source *StandingsSource) RankedRecords(ctx context.Context, query Query) ([]Record, error) {
	tournamentID := strings.TrimSpace(query.TournamentID)
	if tournamentID == "" {
		return nil, errMissingTournament
	}
	statement := source.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("standing_rank ASC").
		Order("id ASC")
	if query.Limit > 0 {
		statement = statement.Limit(query.Limit)
	}
	var rows []Standing
	if err := statement.Find(&rows).Error; err != nil {
		source.logger.Error("standings query failed", zap.String("tournament_id", tournamentID), zap.Error(err))
		return nil, fmt.Errorf("series: query standings: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := Record{
			PlayerName:   row.PlayerName,
			TotalPoints:  row.TotalPoints,
			StandingRank: row.StandingRank,
		}
		if len(row.RoundScores) > 0 {
			scores := map[string]float64{}
			if err := json.Unmarshal(row.RoundScores, &scores); err != nil {
				source.logger.Warn("standings round scores malformed",
					zap.String("tournament_id", tournamentID),
					zap.String("player_name", row.PlayerName),
					zap.Error(err))
			} else {
				record.RoundScores = scores
			}
		}
		records = append(records, record)
	}
	return records, nil
}
