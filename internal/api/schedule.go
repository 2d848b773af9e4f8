package api

import (
	"net/http"

	dserrs "github.com/jdholdren/deepstudy/internal/errors"
	"github.com/jdholdren/deepstudy/internal/serverutil"
)

type ScheduleResp struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	hour, minute, err := s.schedules.Get(r.Context(), uid)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, ScheduleResp{Hour: hour, Minute: minute})
}

type PutScheduleReq struct {
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

func (req PutScheduleReq) Validate() error {
	var details []dserrs.Detail
	if req.Hour == nil {
		details = append(details, dserrs.Detail{Field: "hour", Error: "is required"})
	}
	if req.Minute == nil {
		details = append(details, dserrs.Detail{Field: "minute", Error: "is required"})
	}
	if len(details) > 0 {
		return dserrs.E("invalid schedule", dserrs.KindValidation, details)
	}
	return nil
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	body, err := serverutil.DecodeValid[PutScheduleReq](r.Body)
	if err != nil {
		return err
	}

	if err := s.schedules.Set(r.Context(), uid, *body.Hour, *body.Minute); err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, ScheduleResp{Hour: *body.Hour, Minute: *body.Minute})
}
