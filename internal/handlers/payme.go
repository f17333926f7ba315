package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/services"
)

// PaymeHandler serves the Payme merchant JSON-RPC endpoint.
type PaymeHandler struct {
	payme *services.PaymeService
	log   *zap.Logger
}

func NewPaymeHandler(payme *services.PaymeService, log *zap.Logger) *PaymeHandler {
	return &PaymeHandler{payme: payme, log: log.Named("payme")}
}

type paymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Pay handles Payme JSON-RPC calls. Protocol errors are answered with HTTP 200 as Payme requires.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	var req paymeRPCRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		h.log.Warn("failed to parse request body", zap.Error(err))
		return c.JSON(services.NewPaymeErrorResponse(services.PaymeErrorParse, nil, nil))
	}

	h.log.Info("rpc call", zap.String("method", req.Method), zap.Any("id", req.ID))
	ctx := c.UserContext()

	switch req.Method {
	case "CheckPerformTransaction":
		var params services.CheckPerformParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		if err := h.payme.CheckPerformTransaction(ctx, params, req.ID); err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": fiber.Map{"allow": true}, "id": req.ID})
	case "CheckTransaction":
		var params services.CheckTransactionParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		result, err := h.payme.CheckTransaction(ctx, params, req.ID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case "CreateTransaction":
		var params services.CreateTransactionParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		result, err := h.payme.CreateTransaction(ctx, params, req.ID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case "PerformTransaction":
		var params services.PerformTransactionParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		result, err := h.payme.PerformTransaction(ctx, params, req.ID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case "CancelTransaction":
		var params services.CancelTransactionParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		result, err := h.payme.CancelTransaction(ctx, params, req.ID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case "GetStatement":
		var params services.StatementParams
		if err := decodeParams(req.Params, &params); err != nil {
			return h.invalidRequest(c, req.ID)
		}
		result, err := h.payme.GetStatement(ctx, params)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(fiber.Map{"result": fiber.Map{"transactions": result}, "id": req.ID})
	default:
		return c.JSON(services.NewPaymeErrorResponse(services.PaymeErrorMethodNotFound, req.ID, req.Method))
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("params missing")
	}
	return json.Unmarshal(raw, dst)
}

func (h *PaymeHandler) invalidRequest(c *fiber.Ctx, id any) error {
	return c.JSON(services.NewPaymeErrorResponse(services.PaymeErrorInvalidRequest, id, nil))
}

func (h *PaymeHandler) writeError(c *fiber.Ctx, err error) error {
	var txErr *services.TransactionError
	if errors.As(err, &txErr) {
		return c.JSON(txErr.Response())
	}
	return err
}
