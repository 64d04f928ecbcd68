package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/report"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func (h *Handler) ReportDates(w http.ResponseWriter, r *http.Request) error {
	days, err := h.deps.Reports.DatesWithData(r.Context(), chi.URLParam(r, "sensor"))
	if err != nil {
		if errors.Is(err, services.ErrUnknownSensor) {
			return NewError(http.StatusNotFound, err.Error())
		}
		return err
	}

	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format(dateLayout))
	}
	RespondJSON(w, r, http.StatusOK, out)
	return nil
}

// DownloadReport renders the readings between ?from= and ?to= (inclusive
// calendar days, YYYY-MM-DD) as ?format=csv|pdf. The outcome is also shown
// to the user as the state's user message.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	loc := h.deps.Reports.Location()

	from, err := time.ParseInLocation(dateLayout, q.Get("from"), loc)
	if err != nil {
		return NewError(http.StatusBadRequest, "Invalid 'from' date, expected YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(dateLayout, q.Get("to"), loc)
	if err != nil {
		return NewError(http.StatusBadRequest, "Invalid 'to' date, expected YYYY-MM-DD")
	}
	formatParam := q.Get("format")
	if formatParam == "" {
		formatParam = string(report.FormatPDF)
	}
	format, err := report.ParseFormat(formatParam)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}

	rep, err := h.deps.Reports.Generate(r.Context(), report.Request{
		SensorKey: chi.URLParam(r, "sensor"),
		From:      from,
		To:        to,
		Format:    format,
	})
	if err != nil {
		return h.reportError(err, format)
	}

	h.deps.State.SetUserMessage(fmt.Sprintf("%s report ready: %s", strings.ToUpper(string(format)), rep.FileName))

	w.Header().Set("Content-Type", rep.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(rep.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rep.Data); err != nil {
		h.logger.Warn("Failed to send report", zap.String("file", rep.FileName), zap.Error(err))
	}
	return nil
}

func (h *Handler) reportError(err error, format report.Format) error {
	switch {
	case errors.Is(err, report.ErrNoData):
		h.deps.State.SetUserMessage("No records found in that range.")
		return NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, report.ErrInvalidRange), errors.Is(err, report.ErrUnknownFormat):
		return NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnknownSensor):
		return NewError(http.StatusNotFound, err.Error())
	}

	h.deps.State.SetUserMessage(fmt.Sprintf("Could not generate %s report.", strings.ToUpper(string(format))))
	return NewError(http.StatusBadGateway, "Report generation failed")
}
