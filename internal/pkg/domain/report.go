package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

//Reading is a numeric sample that the backend sends either as a JSON number or as a numeric string
type Reading float64

//UnmarshalJSON accepts 12.5 as well as "12.5"
func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("reading %q is not numeric", s)
		}
		*r = Reading(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Reading(f)
	return nil
}

//ReportPoint is one sample of a historical pin series
type ReportPoint struct {
	Pin   string    `json:"pin"`
	Value Reading   `json:"value"`
	Time  time.Time `json:"time"`
}

//ReportQuery selects a pin series with optional bounds
type ReportQuery struct {
	Pin   string
	Start *time.Time
	End   *time.Time
}

//LastHour returns a query for pin covering the hour before now
func LastHour(pin string, now time.Time) ReportQuery {
	start := now.Add(-1 * time.Hour)
	end := now
	return ReportQuery{Pin: pin, Start: &start, End: &end}
}
