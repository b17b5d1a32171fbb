package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nedpals/davi-tag-agent/protocol"
	"github.com/nedpals/davi-tag-agent/serial"
)

const defaultInputSource = "http-api"

// handleTagInput handles POST /api/v1/tag, feeding a manually entered
// serial through the pipeline.
func (s *Server) handleTagInput(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req protocol.TagInputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendTagInputError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest,
			"Failed to parse request body: "+err.Error())
		return
	}

	normalized, err := s.config.Controller.Inject(req.Serial)
	if err != nil {
		status, code := http.StatusBadRequest, protocol.ErrCodeInvalidSerial
		if !errors.Is(err, serial.ErrEmpty) && !errors.Is(err, serial.ErrInvalid) {
			status, code = http.StatusInternalServerError, protocol.ErrCodeInternalError
		}
		s.sendTagInputError(w, status, code, err.Error())
		return
	}

	source := req.Source
	if source == "" {
		source = defaultInputSource
	}
	s.logger.Info().Str("serial", normalized).Str("source", source).Msg("tag input received")

	json.NewEncoder(w).Encode(protocol.TagInputResponse{
		Success: true,
		Message: "Serial submitted",
		Serial:  normalized,
	})
}

func (s *Server) sendTagInputError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(protocol.TagInputResponse{
		Success:   false,
		Error:     message,
		ErrorCode: errorCode,
	})
}
