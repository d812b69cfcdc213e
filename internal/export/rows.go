// Package export renders reservations as XLSX workbooks and Google Sheets ranges.
package export

import (
	"strings"
	"time"

	"campusbook/internal/models"
)

const timestampLayout = "2006-01-02 15:04"

var header = []string{
	"ID", "Category", "Resource", "Date", "Time Slot", "Host",
	"Participants", "Status", "Created At", "Cancelled At",
}

// row flattens one reservation; cells line up with header.
func row(r *models.Reservation) []interface{} {
	cancelledAt := ""
	if r.CancelledAt != nil {
		cancelledAt = r.CancelledAt.UTC().Format(timestampLayout)
	}
	return []interface{}{
		r.ID,
		string(r.Category),
		r.Title(),
		r.Date,
		r.TimeSlot,
		r.HostName,
		strings.Join(r.Participants, ", "),
		string(r.Status),
		r.CreatedAt.UTC().Format(timestampLayout),
		cancelledAt,
	}
}

func headerRow() []interface{} {
	out := make([]interface{}, len(header))
	for i, h := range header {
		out[i] = h
	}
	return out
}

// FileName is the attachment name for an export covering [from, to].
func FileName(from, to time.Time) string {
	return "reservations_" + from.Format("2006-01-02") + "_to_" + to.Format("2006-01-02") + ".xlsx"
}
