package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// decodeJSON decodes the request body into v. An empty body is accepted when optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return io.EOF
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	view, err := s.conv.StartSession(r.Context(), req)
	if err != nil {
		writeError(w, "startSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session started", view))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.conv.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "getSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.EndSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, "endSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TurnRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	reply, err := s.conv.HandleTurn(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, "turnHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) commitHandler(approve bool) http.HandlerFunc {
	op := "rejectHandler"
	if approve {
		op = "approveHandler"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CommitRequest
		if err := decodeJSON(r, &req, true); err != nil {
			slog.Warn("Server."+op+": failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		id := r.PathValue("id")
		commit := s.conv.Reject
		if approve {
			commit = s.conv.Approve
		}
		reply, err := commit(r.Context(), id, req)
		if err != nil {
			writeError(w, op, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(reply))
	}
}

func (s *Server) beginEditHandler(w http.ResponseWriter, r *http.Request) {
	var req models.EditRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	state, err := s.conv.BeginEdit(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, "beginEditHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

func (s *Server) updateRowHandler(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(r.PathValue("row"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("row must be an integer"))
		return
	}
	var req models.RowUpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	state, err := s.conv.UpdateRow(r.Context(), r.PathValue("id"), row, req)
	if err != nil {
		writeError(w, "updateRowHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

func (s *Server) saveEditHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.conv.SaveEdit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "saveEditHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Attendance changes saved", state))
}

func (s *Server) cancelEditHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.conv.CancelEdit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "cancelEditHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// readUpload reads the "file" part of a multipart request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("missing file part: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("uploaded file is empty")
	}
	return hdr.Filename, data, nil
}

func (s *Server) attendanceImageHandler(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		slog.Warn("Server.attendanceImageHandler: bad upload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	var class *models.ClassDescriptor
	if c := (models.ClassDescriptor{
		Class:   strings.TrimSpace(r.FormValue("class_")),
		Section: strings.TrimSpace(r.FormValue("section")),
		Date:    strings.TrimSpace(r.FormValue("date")),
	}); c.Complete() {
		class = &c
	}
	slog.Debug("Server.attendanceImageHandler: image received", "file", name, "bytes", len(data), "classSupplied", class != nil)

	reply, err := s.conv.UploadAttendanceImage(r.Context(), r.PathValue("id"), name, data, class)
	if err != nil {
		writeError(w, "attendanceImageHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) uploadFileHandler(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		slog.Warn("Server.uploadFileHandler: bad upload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	reply, err := s.conv.UploadFile(r.Context(), r.PathValue("id"), name, data)
	if err != nil {
		writeError(w, "uploadFileHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) selectClassSectionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ClassSectionSelectRequest
	if err := decodeJSON(r, &req, false); err != nil || strings.TrimSpace(req.ClassSectionID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("class_section_id is required"))
		return
	}
	reply, err := s.conv.SelectClassSection(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, "selectClassSectionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) leaveDecisionHandler(w http.ResponseWriter, r *http.Request) {
	var approve bool
	switch r.PathValue("decision") {
	case "approve":
		approve = true
	case "reject":
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("decision must be approve or reject"))
		return
	}
	var req models.LeaveDecisionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	reply, err := s.conv.DecideLeave(r.Context(), r.PathValue("id"), r.PathValue("requestID"), approve, req)
	if err != nil {
		writeError(w, "leaveDecisionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) speechHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SpeechRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	audio, err := s.conv.Speak(r.Context(), req)
	if err != nil {
		writeError(w, "speechHandler", err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Error("Server.speechHandler: failed to write audio", "error", err)
	}
}
