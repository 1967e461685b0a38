package server

import (
	"net/http"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// ResponseSender writes JSON-RPC responses.
type ResponseSender interface {
	// SendSuccess writes a success envelope echoing the request id.
	SendSuccess(c *gin.Context, id any, result any)

	// SendError writes an error envelope with the given code and message.
	SendError(c *gin.Context, id any, code int, message string)

	// SendErrorWithData writes an error envelope carrying structured data.
	SendErrorWithData(c *gin.Context, id any, code int, message string, data any)
}

// DefaultResponseSender is the standard implementation of ResponseSender.
type DefaultResponseSender struct {
	logger *zap.Logger
}

var _ ResponseSender = (*DefaultResponseSender)(nil)

// NewDefaultResponseSender creates a response sender.
func NewDefaultResponseSender(logger *zap.Logger) *DefaultResponseSender {
	return &DefaultResponseSender{logger: logger}
}

// SendSuccess writes a success envelope. JSON-RPC errors still travel in a
// 200 response; the envelope carries the outcome.
func (s *DefaultResponseSender) SendSuccess(c *gin.Context, id any, result any) {
	c.JSON(http.StatusOK, types.JSONRPCSuccessResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// SendError writes an error envelope.
func (s *DefaultResponseSender) SendError(c *gin.Context, id any, code int, message string) {
	s.SendErrorWithData(c, id, code, message, nil)
}

// SendErrorWithData writes an error envelope with attached data.
func (s *DefaultResponseSender) SendErrorWithData(c *gin.Context, id any, code int, message string, data any) {
	s.logger.Debug("sending error response",
		zap.Int("code", code),
		zap.String("message", message))

	c.JSON(http.StatusOK, types.JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &types.JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
