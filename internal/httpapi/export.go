package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"
)

// ExportCSV streams the winner history as flat rows, newest first. The UTF-8
// BOM keeps spreadsheet apps from mangling non-ASCII names.
func (a *API) ExportCSV(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Store.WinnerRecords()
	if err != nil {
		a.writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="winners_%s.csv"`, time.Now().Format("2006-01-02")))
	if _, err := w.Write([]byte("\uFEFF")); err != nil {
		return
	}

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"seq", "name", "employee_id", "prize"})
	for i, rec := range recs {
		_ = cw.Write([]string{
			fmt.Sprintf("%d", i+1),
			rec.Name,
			rec.EmployeeID,
			rec.PrizeName,
		})
	}
	cw.Flush()
}
