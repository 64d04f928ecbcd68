package api

import (
	"errors"
	"net/http"

	"github.com/IDGS-904-22002349/Eathereye/services"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) error {
	prefs, err := h.deps.Settings.Load(r.Context())
	if err != nil {
		return err
	}
	RespondJSON(w, r, http.StatusOK, prefs)
	return nil
}

// SettingsPatch updates the toggles that are present.
type SettingsPatch struct {
	NotificationsEnabled *bool `json:"notificationsEnabled"`
	AlarmSoundEnabled    *bool `json:"alarmSoundEnabled"`
}

func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) error {
	patch, err := DecodeJSON[SettingsPatch](r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	if patch.NotificationsEnabled != nil {
		if err := h.deps.Settings.SetNotificationsEnabled(ctx, *patch.NotificationsEnabled); err != nil {
			return err
		}
	}
	if patch.AlarmSoundEnabled != nil {
		if err := h.deps.Settings.SetAlarmSoundEnabled(ctx, *patch.AlarmSoundEnabled); err != nil {
			return err
		}
	}

	return h.GetSettings(w, r)
}

type ThresholdRequest struct {
	Value float64 `json:"value"`
}

func (h *Handler) PutThreshold(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[ThresholdRequest](r)
	if err != nil {
		return err
	}

	sensor := chi.URLParam(r, "sensor")
	if err := h.deps.Settings.SetThreshold(r.Context(), sensor, req.Value); err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownSensor):
			return NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrInvalidThreshold):
			return NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	return h.GetSettings(w, r)
}
