package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
)

func (a *HTTPApp) StartAutoConfig(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &StartAutoConfigDTO{}
	if err := stx.BindToDTO(&req.StartAutoConfigForm{}, formDTO); err != nil {
		return err
	}

	tokens, err := a.node.StartAutoConfig(formDTO.Labels)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, tokens)
}

func (a *HTTPApp) StopAutoConfig(c echo.Context) error {
	stx := c.(*cs.ContextService)
	if err := a.node.StopAutoConfig(); err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, "ok")
}

func (a *HTTPApp) AutoConfig(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &AutoConfigTokenDTO{}
	if err := stx.BindToDTO(&req.AutoConfigTokenForm{}, formDTO); err != nil {
		return err
	}

	message, err := a.node.AutoConfig(formDTO.Token)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, message)
}
