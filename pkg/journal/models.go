package journal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the calendar-date layout of TradeRecord.OccurredOn.
const DateLayout = "2006-01-02"

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "Long"
	DirectionShort Direction = "Short"
)

// Mood is the self-reported state of mind while trading.
type Mood string

const (
	MoodCalm    Mood = "Calm"
	MoodFocused Mood = "Focused"
	MoodTilted  Mood = "Tilted"
	MoodRevenge Mood = "Revenge"
	MoodFearful Mood = "Fearful"
)

var Moods = []Mood{MoodCalm, MoodFocused, MoodTilted, MoodRevenge, MoodFearful}

var Directions = []Direction{DirectionLong, DirectionShort}

// TradeFields holds everything the client supplies when logging a trade.
// Optional metadata is nil when not provided.
type TradeFields struct {
	OccurredOn          string    `json:"date" validate:"required,datetime=2006-01-02"`
	Instrument          string    `json:"pair" validate:"required"`
	Direction           Direction `json:"direction" validate:"required,oneof=Long Short"`
	Session             string    `json:"session"`
	StrategyTag         string    `json:"strategy"`
	RiskAmount          Amount    `json:"risk"`
	ResultInCurrency    Amount    `json:"result_usd"`
	ResultInRiskUnits   Amount    `json:"result_r"`
	SetupTag            *string   `json:"setup_tag,omitempty"`
	Mood                *Mood     `json:"mood,omitempty" validate:"omitempty,oneof=Calm Focused Tilted Revenge Fearful"`
	ScreenshotReference *string   `json:"screenshot_url,omitempty"`
	FreeformNotes       *string   `json:"notes,omitempty"`
}

// TradeRecord is one logged trade as confirmed by the remote store.
type TradeRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"user_id"`
	TradeFields
}

var validate = validator.New()

// Validate checks the client-supplied fields before they are sent.
func (f TradeFields) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewError(ErrCodeValidation,
				fmt.Sprintf("%s: failed %q check", jsonFieldName(fe.Field()), fe.Tag()))
		}
		return WrapError(ErrCodeValidation, "invalid trade fields", err)
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "OccurredOn":
		return "date"
	case "Instrument":
		return "pair"
	default:
		return strings.ToLower(field)
	}
}

// ParseDirection accepts the canonical spelling case-insensitively.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range Directions {
		if strings.EqualFold(string(d), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return "", false
}

// ParseMood accepts the canonical spelling case-insensitively.
func ParseMood(s string) (Mood, bool) {
	for _, m := range Moods {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, true
		}
	}
	return "", false
}

func moodPtr(m Mood) *Mood {
	return &m
}
