package journal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is the flat key-value shape exchanged with the remote persistence engine.
type Row map[string]any

// Wire keys of a trade row.
const (
	KeyID         = "id"
	KeyOwner      = "user_id"
	KeyDate       = "date"
	KeyPair       = "pair"
	KeyDirection  = "direction"
	KeySession    = "session"
	KeyStrategy   = "strategy"
	KeyRisk       = "risk"
	KeyResultR    = "result_r"
	KeyResultUSD  = "result_usd"
	KeySetupTag   = "setup_tag"
	KeyMood       = "mood"
	KeyScreenshot = "screenshot_url"
	KeyNotes      = "notes"
)

// WireKeys lists the row keys in column order.
var WireKeys = []string{
	KeyID, KeyOwner, KeyDate, KeyPair, KeyDirection, KeySession, KeyStrategy,
	KeyRisk, KeyResultR, KeyResultUSD, KeySetupTag, KeyMood, KeyScreenshot, KeyNotes,
}

// FromWire validates a wire row and converts it into a TradeRecord.
// Any missing required field or malformed value yields a *DecodeError; a
// partially populated record is never returned.
func FromWire(row Row) (TradeRecord, error) {
	if row == nil {
		return TradeRecord{}, &DecodeError{Reason: "nil row"}
	}
	id, err := RowID(row)
	if err != nil {
		return TradeRecord{}, err
	}
	owner, err := requiredString(row, KeyOwner)
	if err != nil {
		return TradeRecord{}, err
	}
	if owner == "" {
		return TradeRecord{}, &DecodeError{Field: KeyOwner, Reason: "empty"}
	}

	fields, err := FieldsFromWire(row)
	if err != nil {
		return TradeRecord{}, err
	}
	return TradeRecord{ID: id, OwnerID: owner, TradeFields: fields}, nil
}

// FieldsFromWire decodes the client-supplied part of a row, ignoring id and
// owner. It is the decode step for insert payloads.
func FieldsFromWire(row Row) (TradeFields, error) {
	if row == nil {
		return TradeFields{}, &DecodeError{Reason: "nil row"}
	}
	var f TradeFields
	var err error

	if f.OccurredOn, err = requiredDate(row, KeyDate); err != nil {
		return TradeFields{}, err
	}
	if f.Instrument, err = requiredString(row, KeyPair); err != nil {
		return TradeFields{}, err
	}
	dir, err := requiredString(row, KeyDirection)
	if err != nil {
		return TradeFields{}, err
	}
	parsed, ok := ParseDirection(dir)
	if !ok {
		return TradeFields{}, &DecodeError{Field: KeyDirection, Reason: fmt.Sprintf("unknown direction %q", dir)}
	}
	f.Direction = parsed
	if f.Session, err = requiredString(row, KeySession); err != nil {
		return TradeFields{}, err
	}
	if f.StrategyTag, err = requiredString(row, KeyStrategy); err != nil {
		return TradeFields{}, err
	}
	if f.RiskAmount, err = requiredAmount(row, KeyRisk); err != nil {
		return TradeFields{}, err
	}
	if f.ResultInRiskUnits, err = requiredAmount(row, KeyResultR); err != nil {
		return TradeFields{}, err
	}
	if f.ResultInCurrency, err = requiredAmount(row, KeyResultUSD); err != nil {
		return TradeFields{}, err
	}

	if f.SetupTag, err = optionalString(row, KeySetupTag); err != nil {
		return TradeFields{}, err
	}
	mood, err := optionalString(row, KeyMood)
	if err != nil {
		return TradeFields{}, err
	}
	if mood != nil {
		m, ok := ParseMood(*mood)
		if !ok {
			return TradeFields{}, &DecodeError{Field: KeyMood, Reason: fmt.Sprintf("unknown mood %q", *mood)}
		}
		f.Mood = moodPtr(m)
	}
	if f.ScreenshotReference, err = optionalString(row, KeyScreenshot); err != nil {
		return TradeFields{}, err
	}
	if f.FreeformNotes, err = optionalString(row, KeyNotes); err != nil {
		return TradeFields{}, err
	}
	return f, nil
}

// ToWire converts a record into its full wire row. Absent optional fields
// are emitted as nil.
func ToWire(r TradeRecord) Row {
	row := fieldsToWire(r.TradeFields)
	row[KeyID] = r.ID
	row[KeyOwner] = r.OwnerID
	return row
}

// ToInsertRow builds the insert payload for a new trade; the remote store
// assigns the id.
func ToInsertRow(ownerID string, f TradeFields) Row {
	row := fieldsToWire(f)
	row[KeyOwner] = ownerID
	return row
}

func fieldsToWire(f TradeFields) Row {
	row := Row{
		KeyDate:       f.OccurredOn,
		KeyPair:       f.Instrument,
		KeyDirection:  string(f.Direction),
		KeySession:    f.Session,
		KeyStrategy:   f.StrategyTag,
		KeyRisk:       f.RiskAmount.InexactFloat64(),
		KeyResultR:    f.ResultInRiskUnits.InexactFloat64(),
		KeyResultUSD:  f.ResultInCurrency.InexactFloat64(),
		KeySetupTag:   nil,
		KeyMood:       nil,
		KeyScreenshot: nil,
		KeyNotes:      nil,
	}
	if f.SetupTag != nil {
		row[KeySetupTag] = *f.SetupTag
	}
	if f.Mood != nil {
		row[KeyMood] = string(*f.Mood)
	}
	if f.ScreenshotReference != nil {
		row[KeyScreenshot] = *f.ScreenshotReference
	}
	if f.FreeformNotes != nil {
		row[KeyNotes] = *f.FreeformNotes
	}
	return row
}

// RowID extracts the record id. Integral numeric ids are normalized to
// their decimal string.
func RowID(row Row) (string, error) {
	v, ok := row[KeyID]
	if !ok || v == nil {
		return "", &DecodeError{Field: KeyID, Reason: "missing"}
	}
	var id string
	switch val := v.(type) {
	case string:
		id = strings.TrimSpace(val)
	case json.Number:
		id = val.String()
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return "", &DecodeError{Field: KeyID, Reason: "non-integral numeric id"}
		}
		id = strconv.FormatFloat(val, 'f', 0, 64)
	case int:
		id = strconv.Itoa(val)
	case int64:
		id = strconv.FormatInt(val, 10)
	default:
		return "", &DecodeError{Field: KeyID, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
	if id == "" {
		return "", &DecodeError{Field: KeyID, Reason: "empty"}
	}
	return id, nil
}

// RowOwner returns the owner of a row, or "" when absent.
func RowOwner(row Row) string {
	if row == nil {
		return ""
	}
	s, _ := row[KeyOwner].(string)
	return s
}

func requiredString(row Row, key string) (string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", &DecodeError{Field: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &DecodeError{Field: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

func optionalString(row Row, key string) (*string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, &DecodeError{Field: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return &s, nil
}

func requiredDate(row Row, key string) (string, error) {
	s, err := requiredString(row, key)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", &DecodeError{Field: key, Reason: fmt.Sprintf("not a YYYY-MM-DD date: %q", s)}
	}
	return s, nil
}

func requiredAmount(row Row, key string) (Amount, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return Amount{}, &DecodeError{Field: key, Reason: "missing"}
	}
	a, err := ParseAmount(v)
	if err != nil {
		return Amount{}, &DecodeError{Field: key, Reason: err.Error()}
	}
	return a, nil
}
