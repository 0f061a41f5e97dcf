package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solrelay/transfer-relay/journal"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/relay"
)

// TransferRequest is one transfer in a POST /transfers body.
type TransferRequest struct {
	// SenderKeyEncoded is the base58 secret key. Empty uses the default sender.
	SenderKeyEncoded string `json:"senderKeyEncoded,omitempty"`

	// RecipientAddressOrKey is an address or an encoded secret key.
	RecipientAddressOrKey string `json:"recipientAddressOrKey"`

	AmountUnits int64 `json:"amountUnits"`
}

// transfersBody accepts either a single transfer or a list.
type transfersBody struct {
	TransferRequest
	Transfers []TransferRequest `json:"transfers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTransfers runs the posted transfers as one batch. Per-job failures
// are part of the 200 response; only unusable requests get an error status.
func (s *Server) handleTransfers(c *gin.Context) {
	jobs, status, msg := s.parseTransfers(c)
	if status != http.StatusOK {
		transferRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(status, errorResponse{Error: msg})
		return
	}
	transferRequestsTotal.WithLabelValues("accepted").Inc()

	result := s.runner.Run(c.Request.Context(), jobs)
	c.JSON(http.StatusOK, result)
}

// parseTransfers returns the jobs, or a status and a message that never
// contains request content.
func (s *Server) parseTransfers(c *gin.Context) ([]relay.TransferJob, int, string) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", s.config.MaxBodyBytes)
		}
		return nil, http.StatusBadRequest, "failed to read request body"
	}

	var parsed transfersBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&parsed); err != nil {
		return nil, http.StatusBadRequest, "malformed request body"
	}
	if dec.More() {
		return nil, http.StatusBadRequest, "malformed request body: trailing data"
	}

	single := parsed.TransferRequest
	hasSingle := single != (TransferRequest{})
	var requests []TransferRequest
	switch {
	case parsed.Transfers != nil && hasSingle:
		return nil, http.StatusBadRequest, "body must be a single transfer or a transfers list, not both"
	case parsed.Transfers != nil:
		requests = parsed.Transfers
	case hasSingle:
		requests = []TransferRequest{single}
	}

	if len(requests) == 0 {
		return nil, http.StatusBadRequest, "no transfers in request"
	}
	if len(requests) > s.config.MaxBatchSize {
		return nil, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d transfers exceeds the maximum of %d", len(requests), s.config.MaxBatchSize)
	}

	jobs := make([]relay.TransferJob, len(requests))
	for i, r := range requests {
		jobs[i] = relay.TransferJob{
			SenderKeyEncoded: r.SenderKeyEncoded,
			Recipient:        r.RecipientAddressOrKey,
			AmountUnits:      r.AmountUnits,
		}
	}
	return jobs, http.StatusOK, ""
}

func (s *Server) handleGetBatch(c *gin.Context) {
	id := c.Param("id")

	if tracker := s.runner.Tracker(); tracker != nil {
		if progress, ok := tracker.Get(id); ok {
			c.JSON(http.StatusOK, progress.Snapshot())
			return
		}
	}

	if s.store != nil {
		data, err := s.store.LoadBatch(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Data(http.StatusOK, "application/json; charset=utf-8", data)
			return
		case errors.Is(err, journal.ErrBatchNotFound):
		default:
			s.logger.Warn().Err(err).Str(logging.FieldBatchID, id).Msg("failed to load batch result")
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "batch store unavailable"})
			return
		}
	}

	c.JSON(http.StatusNotFound, errorResponse{Error: "batch not found"})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyCheckTimeout)
		defer cancel()
		if err := s.health.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
