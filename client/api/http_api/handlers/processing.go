package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
	"github.com/depools/mms/client/api/http_api/responses"
)

func (a *HTTPApp) GetNextActions(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &NextDTO{}
	if err := stx.BindToDTO(&req.NextForm{}, formDTO); err != nil {
		return err
	}

	decision, err := a.node.NextActions(formDTO.Sync)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, decision)
}

func (a *HTTPApp) Next(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &NextDTO{}
	if err := stx.BindToDTO(&req.NextForm{}, formDTO); err != nil {
		return err
	}

	action, decision, err := a.node.Next(formDTO.Sync)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, &responses.NextResult{
		Executed: action,
		Decision: decision,
	})
}
