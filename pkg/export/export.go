// Package export writes recorded cycles in formats suited to spreadsheets
// and downstream tooling.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/scm/core/history"
)

// WriteJSON writes the records to w as one JSON array.
func WriteJSON(w io.Writer, recs []history.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// WriteCSV writes one row per schedule period of every dispatched profile.
// Cycles without profiles are skipped.
func WriteCSV(w io.Writer, recs []history.Record) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "cycle_id", "group", "session_id", "station_id", "connector_id", "period_start", "limit", "unit"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range recs {
		for _, p := range r.Profiles {
			for _, per := range p.Periods {
				row := []string{
					r.Timestamp.Format(time.RFC3339),
					r.CycleID,
					r.Group,
					p.SessionID,
					p.StationID,
					strconv.Itoa(p.ConnectorID),
					p.StartSchedule.Add(time.Duration(per.StartPeriod) * time.Second).Format(time.RFC3339),
					strconv.FormatFloat(per.Limit, 'f', -1, 64),
					string(p.Unit),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
