package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/processing"
	"github.com/dharsanguruparan/nexuspass/internal/qr"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
	"github.com/dharsanguruparan/nexuspass/internal/signing"
)

type generateResponse struct {
	Generated int    `json:"generated"`
	Message   string `json:"message"`
	Partial   bool   `json:"partial,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.dispatchGenerate(w, r)
		return
	}
	n, err := s.deps.Generator.GenerateMissing(r.Context())
	if err != nil {
		resp := generateResponse{Generated: n, Error: err.Error()}
		var batch *checkin.BatchError
		if errors.As(err, &batch) && batch.Partial() {
			resp.Partial = true
			resp.Message = fmt.Sprintf("Generated %d QR codes before a failure; run again to finish", n)
		} else {
			resp.Message = "QR code generation failed"
		}
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	msg := "QR codes generated and stored successfully!"
	if n == 0 {
		msg = "Every attendee already has a QR code"
	}
	respondJSON(w, http.StatusOK, generateResponse{Generated: n, Message: msg})
}

func (s *Server) dispatchGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "background generation is not configured")
		return
	}
	id, err := s.deps.Dispatcher.Dispatch(r.Context(), queue.NewGeneratePayload("api"))
	switch {
	case errors.Is(err, queue.ErrBatchPending), errors.Is(err, processing.ErrQueueFull):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"batchId": id, "status": "queued"})
}

type scanResponse struct {
	Results []model.ScanResult `json:"results"`
	Message string             `json:"message,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameSize+1024)
	frame, err := s.readFrame(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || errors.Is(err, errFrameTooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "frame exceeds size limit")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Desk.ProcessFrame(r.Context(), frame)
	if err != nil {
		if errors.Is(err, qr.ErrUnreadableFrame) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, qr.ErrUnreadableCode) {
			respondJSON(w, http.StatusUnprocessableEntity, scanResponse{
				Results: []model.ScanResult{},
				Message: "QR code detected but could not be read, hold it steady and rescan",
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := scanResponse{Results: results}
	if len(results) == 0 {
		resp.Message = "no QR code detected"
	}
	respondJSON(w, http.StatusOK, resp)
}

var errFrameTooLarge = errors.New("frame exceeds size limit")

// readFrame accepts a multipart upload with a "frame" part or a raw image body.
func (s *Server) readFrame(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		mr, err := r.MultipartReader()
		if err != nil {
			return nil, errors.New("expecting multipart form")
		}
		part, err := nextFramePart(mr)
		if err != nil {
			return nil, errors.New("missing frame part")
		}
		defer part.Close()
		src = part
	}
	data, err := io.ReadAll(io.LimitReader(src, s.cfg.MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.cfg.MaxFrameSize {
		return nil, errFrameTooLarge
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	return data, nil
}

func nextFramePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "frame" {
			return part, nil
		}
		part.Close()
	}
}

type checkinRequest struct {
	Payload string `json:"payload" validate:"required"`
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "payload is required")
		return
	}
	res := s.deps.Desk.ProcessPayload(r.Context(), req.Payload)
	respondJSON(w, outcomeStatus(res.Outcome), res)
}

func outcomeStatus(o model.Outcome) int {
	switch o {
	case model.OutcomeMarked, model.OutcomeAlreadyMarked:
		return http.StatusOK
	case model.OutcomeNotFound:
		return http.StatusNotFound
	case model.OutcomeMalformedPayload:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

type statsResponse struct {
	model.Statistics
	Breakdown []model.Slice `json:"breakdown"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Reporter.Statistics(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, statsResponse{Statistics: stats, Breakdown: checkin.Breakdown(stats)})
}

func (s *Server) handleListAttendees(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Attendees.List(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if list == nil {
		list = []model.Attendee{}
	}
	respondJSON(w, http.StatusOK, list)
}

type createAttendeeRequest struct {
	ID   string `json:"attendeeId" validate:"required,max=128"`
	Name string `json:"name" validate:"max=256"`
}

func (s *Server) handleCreateAttendee(w http.ResponseWriter, r *http.Request) {
	var req createAttendeeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.IndexFunc(req.ID, unicode.IsSpace) >= 0 {
		respondError(w, http.StatusBadRequest, "attendeeId must not contain whitespace")
		return
	}
	a := &model.Attendee{ID: req.ID, Name: req.Name}
	if err := s.deps.Attendees.Create(r.Context(), a); err != nil {
		if errors.Is(err, model.ErrAttendeeExists) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleCodeURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := s.deps.Attendees.Find(r.Context(), model.Identity{ID: id})
	if err != nil {
		if errors.Is(err, model.ErrAttendeeNotFound) {
			respondError(w, http.StatusNotFound, "attendee not found")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !a.HasCode() {
		respondError(w, http.StatusNotFound, "qr code not generated yet")
		return
	}
	expires := s.now().Add(s.cfg.SignedURLTTL)
	resp := map[string]string{
		"url":     s.deps.Signer.CodePath(a.ID, expires),
		"expires": strconv.FormatInt(expires.Unix(), 10),
		"locator": *a.CodeLocator,
	}
	if s.deps.Presigner != nil {
		direct, err := s.deps.Presigner.PresignURL(r.Context(), qr.ObjectKey(a.ID), s.cfg.SignedURLTTL)
		if err != nil {
			respondError(w, http.StatusBadGateway, "failed to generate url")
			return
		}
		resp["presignedUrl"] = direct
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCodeImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	if q.Get("expires") == "" || q.Get("signature") == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	if err := s.deps.Signer.Verify(id, q.Get("expires"), q.Get("signature"), s.now()); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, signing.ErrExpired) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}
	data, err := s.deps.Artifacts.Get(r.Context(), qr.ObjectKey(id))
	if err != nil {
		if errors.Is(err, model.ErrArtifactNotFound) {
			http.Error(w, "qr code not found", http.StatusNotFound)
			return
		}
		http.Error(w, "qr code unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "inline; filename=\""+id+".png\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
