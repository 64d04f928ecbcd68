package api

import (
	"context"
	"net/http"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/report"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StateController is the dashboard coordinator as seen by the API.
type StateController interface {
	State() models.AppState
	Watch() (<-chan models.AppState, func())
	SelectSeries(index int) error
	SelectScreen(index int) error
	SetExtraction(on bool) error
	ClearError()
	ClearUserMessage()
	SetUserMessage(msg string)
}

type AlertLister interface {
	Alerts() []models.AlertNotification
	Watch() (<-chan []models.AlertNotification, func())
}

type SettingsManager interface {
	Load(ctx context.Context) (models.UserPreferences, error)
	SetNotificationsEnabled(ctx context.Context, enabled bool) error
	SetAlarmSoundEnabled(ctx context.Context, enabled bool) error
	SetThreshold(ctx context.Context, sensorKey string, value float64) error
	Watch() (<-chan models.UserPreferences, func())
}

type ReportGenerator interface {
	Generate(ctx context.Context, req report.Request) (*report.Report, error)
	DatesWithData(ctx context.Context, sensorKey string) ([]time.Time, error)
	Location() *time.Location
}

type SensorHealthReader interface {
	Snapshot() []models.SensorHealth
}

// Credentials is the placeholder login account.
type Credentials struct {
	Username string
	Password string
}

// Deps are the collaborators behind the routes. SensorHealth may be nil.
type Deps struct {
	State        StateController
	Alerts       AlertLister
	Settings     SettingsManager
	Reports      ReportGenerator
	SensorHealth SensorHealthReader
	Login        Credentials
}

type Handler struct {
	deps   Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger.With(zap.String("component", "api"))}
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	mw := NewMiddleware(h.logger)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recoverer)

	r.Get("/healthz", ErrorHandler(h.Health))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", ErrorHandler(h.Login))

		r.Get("/state", ErrorHandler(h.GetState))
		r.Get("/state/ws", h.StateStream)
		r.Delete("/state/error", ErrorHandler(h.ClearError))
		r.Delete("/state/message", ErrorHandler(h.ClearMessage))
		r.Post("/selection", ErrorHandler(h.SelectSeries))
		r.Post("/screen", ErrorHandler(h.SelectScreen))
		r.Post("/extraction", ErrorHandler(h.SetExtraction))

		r.Get("/alerts", ErrorHandler(h.ListAlerts))
		r.Get("/alerts/ws", h.AlertStream)
		r.Get("/sensors/health", ErrorHandler(h.SensorHealth))

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", ErrorHandler(h.GetSettings))
			r.Get("/ws", h.SettingsStream)
			r.Patch("/", ErrorHandler(h.PatchSettings))
			r.Put("/thresholds/{sensor}", ErrorHandler(h.PutThreshold))
		})

		r.Route("/reports/{sensor}", func(r chi.Router) {
			r.Get("/", ErrorHandler(h.DownloadReport))
			r.Get("/dates", ErrorHandler(h.ReportDates))
		})
	})

	return r
}
