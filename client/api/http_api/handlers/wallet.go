package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
	"github.com/depools/mms/client/repositories/signer"
)

func (a *HTTPApp) GetStatus(c echo.Context) error {
	stx := c.(*cs.ContextService)
	status, err := a.node.Status()
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, status)
}

func (a *HTTPApp) InitWallet(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &InitWalletDTO{}
	if err := stx.BindToDTO(&req.InitWalletForm{}, formDTO); err != nil {
		return err
	}

	registry, err := a.node.InitWallet(formDTO.Threshold, formDTO.Signers, formDTO.Label, formDTO.PublicAddress)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, registry)
}

func (a *HTTPApp) SetSigner(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &SignerPatchDTO{}
	if err := stx.BindToDTO(&req.SignerPatchForm{}, formDTO); err != nil {
		return err
	}

	patch := signer.Patch{}
	if formDTO.Label != "" {
		patch.Label = &formDTO.Label
	}
	if formDTO.TransportAddress != "" {
		patch.TransportAddress = &formDTO.TransportAddress
	}
	if formDTO.PublicAddress != "" {
		patch.PublicAddress = &formDTO.PublicAddress
	}

	entry, err := a.node.SetSigner(formDTO.Index, patch)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, entry)
}

func (a *HTTPApp) GetSigners(c echo.Context) error {
	stx := c.(*cs.ContextService)
	signers, err := a.node.GetSigners()
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, signers)
}
