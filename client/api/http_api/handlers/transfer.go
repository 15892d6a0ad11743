package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
)

func (a *HTTPApp) ProposeTransfer(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &TransferDTO{}
	if err := stx.BindToDTO(&req.TransferForm{}, formDTO); err != nil {
		return err
	}

	message, err := a.node.ProposeTransfer(formDTO.Destination, formDTO.Amount)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, message)
}
