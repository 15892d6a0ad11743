package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
)

func (a *HTTPApp) SetOption(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &OptionDTO{}
	if err := stx.BindToDTO(&req.OptionForm{}, formDTO); err != nil {
		return err
	}

	if err := a.node.SetOption(formDTO.Name, formDTO.Value); err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, "ok")
}

func (a *HTTPApp) GetOption(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &OptionNameDTO{}
	if err := stx.BindToDTO(&req.OptionNameForm{}, formDTO); err != nil {
		return err
	}

	value, err := a.node.GetOption(formDTO.Name)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, value)
}
