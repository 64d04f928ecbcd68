package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/IDGS-904-22002349/Eathereye/dashboard"
	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"
)

type HealthResponse struct {
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqttConnected"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	RespondJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", MQTTConnected: h.deps.State.State().Connected})
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login is a placeholder credential check against the configured account.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[LoginRequest](r)
	if err != nil {
		return err
	}

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		RespondJSON(w, r, http.StatusBadRequest, models.LoginFailed("Username and password are required"))
		return nil
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.deps.Login.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.deps.Login.Password)) == 1
	if !userOK || !passOK {
		RespondJSON(w, r, http.StatusUnauthorized, models.LoginFailed("Invalid username or password"))
		return nil
	}

	RespondJSON(w, r, http.StatusOK, models.LoginSucceeded())
	return nil
}

// StateResponse adds derived fields to the state.
type StateResponse struct {
	models.AppState
	ScreenTitle string `json:"screenTitle"`
	SelectedKey string `json:"selectedKey"`
}

func newStateResponse(s models.AppState) StateResponse {
	return StateResponse{AppState: s, ScreenTitle: s.ScreenTitle(), SelectedKey: s.Selected().Key}
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) error {
	RespondJSON(w, r, http.StatusOK, newStateResponse(h.deps.State.State()))
	return nil
}

func (h *Handler) ClearError(w http.ResponseWriter, r *http.Request) error {
	h.deps.State.ClearError()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) ClearMessage(w http.ResponseWriter, r *http.Request) error {
	h.deps.State.ClearUserMessage()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type IndexRequest struct {
	Index int `json:"index"`
}

func (h *Handler) SelectSeries(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[IndexRequest](r)
	if err != nil {
		return err
	}
	if err := h.deps.State.SelectSeries(req.Index); err != nil {
		return indexError(err)
	}
	RespondJSON(w, r, http.StatusOK, newStateResponse(h.deps.State.State()))
	return nil
}

func (h *Handler) SelectScreen(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[IndexRequest](r)
	if err != nil {
		return err
	}
	if err := h.deps.State.SelectScreen(req.Index); err != nil {
		return indexError(err)
	}
	RespondJSON(w, r, http.StatusOK, newStateResponse(h.deps.State.State()))
	return nil
}

func indexError(err error) error {
	switch {
	case errors.Is(err, dashboard.ErrOutOfRange):
		return NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, dashboard.ErrClosed):
		return NewError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

type ExtractionRequest struct {
	On bool `json:"on"`
}

func (h *Handler) SetExtraction(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[ExtractionRequest](r)
	if err != nil {
		return err
	}
	if err := h.deps.State.SetExtraction(req.On); err != nil {
		if errors.Is(err, services.ErrNotConnected) {
			return NewError(http.StatusServiceUnavailable, "Not connected to the broker")
		}
		return err
	}
	RespondJSON(w, r, http.StatusOK, newStateResponse(h.deps.State.State()))
	return nil
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) error {
	alerts := h.deps.Alerts.Alerts()
	if alerts == nil {
		alerts = []models.AlertNotification{}
	}
	RespondJSON(w, r, http.StatusOK, alerts)
	return nil
}

func (h *Handler) SensorHealth(w http.ResponseWriter, r *http.Request) error {
	if h.deps.SensorHealth == nil {
		RespondJSON(w, r, http.StatusOK, []models.SensorHealth{})
		return nil
	}
	RespondJSON(w, r, http.StatusOK, h.deps.SensorHealth.Snapshot())
	return nil
}
