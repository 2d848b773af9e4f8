package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	dserrs "github.com/jdholdren/deepstudy/internal/errors"
	"github.com/jdholdren/deepstudy/internal/processor"
	"github.com/jdholdren/deepstudy/internal/serverutil"
)

type TopicResp struct {
	ID        int64  `json:"id"`
	Topic     string `json:"topic"`
	ArchiveID int64  `json:"archive_id"`
}

func apiTopic(it deepstudy.QueueItem) TopicResp {
	return TopicResp{ID: it.ID, Topic: it.Topic, ArchiveID: it.ArchiveID}
}

func (s *Server) getTopics(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	items, err := s.queue.List(r.Context(), uid)
	if err != nil {
		return err
	}

	resp := make([]TopicResp, 0, len(items))
	for _, it := range items {
		resp = append(resp, apiTopic(it))
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type PostTopicReq struct {
	Topic string `json:"topic"`
}

// The queue does the real validation; this only catches a missing field.
func (req PostTopicReq) Validate() error {
	if req.Topic == "" {
		return dserrs.E("topic is required", dserrs.KindValidation)
	}
	return nil
}

func (s *Server) postTopic(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	body, err := serverutil.DecodeValid[PostTopicReq](r.Body)
	if err != nil {
		return err
	}

	item, _, err := s.queue.Enqueue(r.Context(), uid, body.Topic)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiTopic(item))
}

type HistoryResp struct {
	ID          int64      `json:"id"`
	Topic       string     `json:"topic"`
	URL         string     `json:"url"`
	AddedAt     time.Time  `json:"added_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	entries, err := s.queue.History(r.Context(), uid, parseLimit(r, deepstudy.DefaultHistoryLimit, 100))
	if err != nil {
		return err
	}

	resp := make([]HistoryResp, 0, len(entries))
	for _, e := range entries {
		var url string
		if e.PublishedURL != nil {
			url = *e.PublishedURL
		}
		resp = append(resp, HistoryResp{
			ID:          e.ID,
			Topic:       e.Topic,
			URL:         url,
			AddedAt:     e.AddedAt,
			CompletedAt: e.CompletedAt,
		})
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

// Kicks off an immediate generation and returns without waiting for it. The
// user hears about the result through the usual notification.
func (s *Server) postGenerate(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	work := context.WithoutCancel(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.proc.ProcessOneTopic(work, uid, processor.ModeImmediate)
	}()

	return serverutil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
