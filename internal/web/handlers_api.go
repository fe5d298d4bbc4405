package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bandlink/internal/events"
	"bandlink/internal/store"
)

const defaultListLimit = 50

func (s *Server) handleAPIListTransfers(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	kind := r.URL.Query().Get("kind")
	fetch := limit
	if kind != "" {
		fetch = 0
	}
	transfers, err := s.store.ListTransfers(fetch)
	if err != nil {
		s.logger.Error("list transfers", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if kind != "" {
		filtered := transfers[:0]
		for _, t := range transfers {
			if t.Kind == kind {
				filtered = append(filtered, t)
			}
		}
		transfers = filtered
		if limit > 0 && len(transfers) > limit {
			transfers = transfers[:limit]
		}
	}
	s.writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) handleAPIGetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTransfer(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, "transfer", err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAPIDeleteTransfer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.store.GetTransfer(id)
	if err != nil {
		s.writeStoreError(w, "transfer", err)
		return
	}
	if err := s.store.DeleteTransfer(id); err != nil {
		s.logger.Error("delete transfer", "err", err, "id", id)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.forgetDevice(t.Device)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// forgetDevice announces DeviceRemoved once no stored transfer names device.
func (s *Server) forgetDevice(device string) {
	if device == "" {
		return
	}
	rest, err := s.store.ListTransfers(0)
	if err != nil {
		s.logger.Warn("list transfers", "err", err)
		return
	}
	for _, t := range rest {
		if t.Device == device {
			return
		}
	}
	s.logger.Info("device has no transfers left", "device", device)
	s.bus.Emit(events.Event{Type: events.DeviceRemoved, Data: events.Removed{Device: device}})
}

func (s *Server) handleAPIGetDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.store.GetDownload(id)
	if err != nil {
		s.writeStoreError(w, "download", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.bin"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": what + " not found"})
		return
	}
	s.logger.Error("store", "what", what, "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
