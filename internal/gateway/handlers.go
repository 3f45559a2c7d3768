package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/writeway/internal/ledger"
	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/queue"
	"github.com/forgo/writeway/internal/store"
)

// Server holds the dependencies the Write Gateway's HTTP handlers need:
// the admission controller, the durable queue publisher, and the status
// reader. No package-level or ambient state; every dependency is
// constructed and passed in explicitly.
type Server struct {
	admitter  *Admitter
	publisher queue.Publisher
	reader    *ledger.Reader
}

// NewServer builds a Server from its explicit dependencies.
func NewServer(admitter *Admitter, publisher queue.Publisher, reader *ledger.Reader) *Server {
	return &Server{admitter: admitter, publisher: publisher, reader: reader}
}

// Routes registers the gateway's handlers on mux: one write endpoint per
// supported table, the status reader, and health.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /users", s.handleWrite(model.TableUsers))
	mux.HandleFunc("POST /orders", s.handleWrite(model.TableOrders))
	mux.HandleFunc("GET /status/{operationId}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// handleWrite accepts a mutation request for table, admits it, and
// publishes exactly one durable message keyed by the caller's
// Idempotency-Key.
func (s *Server) handleWrite(table model.EntityTable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			model.NewBadRequestError("missing Idempotency-Key header").WriteJSON(w)
			return
		}

		operationID, err := uuid.Parse(idempotencyKey)
		if err != nil {
			model.NewBadRequestError("Idempotency-Key must be a UUID").WriteJSON(w)
			return
		}

		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			model.NewBadRequestError("request body must be valid JSON").WriteJSON(w)
			return
		}

		req := model.WriteRequest{OperationID: operationID, Table: table, Data: data}
		if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
			model.NewValidationError(fieldErrs).WriteJSON(w)
			return
		}

		release, err := s.admitter.Admit()
		if err != nil {
			s.writeAdmissionError(w, err)
			return
		}

		payload, err := json.Marshal(req)
		if err != nil {
			release(false)
			model.NewInternalError("failed to encode write request").WriteJSON(w)
			return
		}

		subject := "writes." + string(table)
		err = s.publisher.Publish(r.Context(), subject, payload, idempotencyKey)
		release(err == nil)
		if err != nil {
			model.NewUpstreamError(fmt.Sprintf("failed to enqueue write: %s", err)).WriteJSON(w)
			return
		}

		resp := model.AcceptedResponse{
			Status:      "accepted",
			OperationID: operationID,
			AcceptedAt:  time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *Server) writeAdmissionError(w http.ResponseWriter, err error) {
	retryAfter := s.admitter.ResetSeconds()
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	switch {
	case errors.Is(err, ErrBackpressure):
		model.NewBackpressureError(retryAfter).WriteJSON(w)
	case errors.Is(err, ErrCircuitOpen):
		model.NewCircuitOpenError(retryAfter).WriteJSON(w)
	default:
		model.NewInternalError("admission rejected the request").WriteJSON(w)
	}
}

// handleStatus answers GET /status/{operationId} by reading the ledger.
// An unknown operation_id is reported as pending, since the message may
// still be queued and not yet observed by the processor.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	operationID, err := uuid.Parse(r.PathValue("operationId"))
	if err != nil {
		model.NewBadRequestError("operationId must be a UUID").WriteJSON(w)
		return
	}

	resp, err := s.reader.Get(r.Context(), operationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			resp = &model.StatusResponse{Status: model.StatusPending, OperationID: operationID}
		} else {
			model.NewInternalError("failed to read operation status").WriteJSON(w)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// healthResponse is the /health payload: liveness plus admission metrics.
type healthResponse struct {
	Status           string `json:"status"`
	InFlight         int64  `json:"in_flight"`
	CircuitState     string `json:"circuit_state"`
	ConsecutiveFails int32  `json:"consecutive_fails"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.admitter.Status()
	resp := healthResponse{
		Status:           "ok",
		InFlight:         snap.InFlight,
		CircuitState:     snap.BreakerState,
		ConsecutiveFails: snap.ConsecutiveFails,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
