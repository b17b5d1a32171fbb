package server

import (
	"context"
	"fmt"

	"github.com/nedpals/davi-tag-agent/pipeline"
	"github.com/nedpals/davi-tag-agent/protocol"
	"github.com/nedpals/davi-tag-agent/serial"
)

// Controller is the part of the pipeline the server drives.
type Controller interface {
	StartScan(ctx context.Context) error
	Retry(serial string) error
	Search(serial string) error
	Inject(raw string) (string, error)
	Status(ctx context.Context) pipeline.Status
}

// registerConsumerHandlers wires the consumer request types to the controller.
func (s *Server) registerConsumerHandlers() {
	s.Handle(protocol.WSTypeStartScan, s.handleStartScan)
	s.Handle(protocol.WSTypeSubmit, s.serialHandler(s.config.Controller.Retry))
	s.Handle(protocol.WSTypeSearch, s.serialHandler(s.config.Controller.Search))
	s.Handle(protocol.WSTypeGetStatus, s.handleGetStatus)
}

func (s *Server) handleStartScan(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	if err := s.config.Controller.StartScan(ctx); err != nil {
		client.SendError(req.ID, ErrCodeScanFailed, err.Error())
		return err
	}
	return client.SendResponse(req.ID, req.Type, nil)
}

// serialHandler builds a handler that normalizes the request serial and
// passes it to run. The outcome arrives later as a submission broadcast.
func (s *Server) serialHandler(run func(string) error) HandlerFunc {
	return func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
		var body protocol.SerialRequest
		if err := req.Decode(&body); err != nil {
			client.SendError(req.ID, ErrCodeInvalidPayload, "Invalid payload format")
			return fmt.Errorf("decode %s payload: %w", req.Type, err)
		}

		normalized, err := serial.Parse(body.Serial)
		if err != nil {
			client.SendError(req.ID, protocol.ErrCodeInvalidSerial, err.Error())
			return err
		}
		if err := run(normalized); err != nil {
			client.SendError(req.ID, protocol.ErrCodeInternalError, err.Error())
			return err
		}
		return client.SendResponse(req.ID, req.Type, protocol.SerialRequest{Serial: normalized})
	}
}

func (s *Server) handleGetStatus(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return client.SendResponse(req.ID, protocol.WSTypeStatus, s.status(ctx))
}

func (s *Server) status(ctx context.Context) protocol.StatusPayload {
	devices := 0
	if s.config.Devices != nil {
		devices = s.config.Devices.GetActiveDeviceCount()
	}
	return statusPayload(s.config.Controller.Status(ctx), devices)
}
