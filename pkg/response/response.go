package response

import (
	"net/http"

	"sharetips/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientFunds    = 1001
	CodeSelfPurchase         = 1002
	CodeSelfSubscription     = 1003
	CodeAlreadyPurchased     = 1004
	CodeAlreadySubscribed    = 1005
	CodeContentNotFound      = 1006
	CodeTipsterNotFound      = 1007
	CodeSubscriptionNotFound = 1008
	CodeInvalidAmount        = 1009
	CodeRetryLater           = 1010
)

var codes = map[apperr.Code]int{
	apperr.CodeInsufficientFunds:    CodeInsufficientFunds,
	apperr.CodeSelfPurchase:         CodeSelfPurchase,
	apperr.CodeSelfSubscription:     CodeSelfSubscription,
	apperr.CodeAlreadyPurchased:     CodeAlreadyPurchased,
	apperr.CodeAlreadySubscribed:    CodeAlreadySubscribed,
	apperr.CodeContentNotFound:      CodeContentNotFound,
	apperr.CodeTipsterNotFound:      CodeTipsterNotFound,
	apperr.CodeSubscriptionNotFound: CodeSubscriptionNotFound,
	apperr.CodeInvalidAmount:        CodeInvalidAmount,
	apperr.CodeInvalidRequest:       CodeParamError,
	apperr.CodeLockTimeout:          CodeRetryLater,
	apperr.CodeStorageFailure:       CodeRetryLater,
}

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context) {
	Error(c, CodeUnauthorized, "missing caller identity")
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// CodeFor returns the envelope code for a service error.
func CodeFor(err error) int {
	if code, ok := codes[apperr.CodeOf(err)]; ok {
		return code
	}
	return CodeServerError
}

// FromError writes err as a business failure. The message never carries lock
// or storage detail. data, when not nil, is the structured result.
func FromError(c *gin.Context, err error, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeFor(err),
		Message: apperr.PublicMessage(err),
		Data:    data,
	})
}
