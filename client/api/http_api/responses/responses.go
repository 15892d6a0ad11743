package responses

import (
	"github.com/depools/mms/client/types"
)

type BaseResponse struct {
	ErrorMessage string      `json:"error_message,omitempty"`
	Result       interface{} `json:"result"`
}

// NextResult is the /next reply: the action that ran, if any, and the
// processing decision taken before running it.
type NextResult struct {
	Executed *types.Action   `json:"executed,omitempty"`
	Decision *types.Decision `json:"decision"`
}
