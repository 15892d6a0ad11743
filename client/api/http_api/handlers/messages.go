package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/depools/mms/client/api/dto"
	cs "github.com/depools/mms/client/api/http_api/context_service"
	req "github.com/depools/mms/client/api/http_api/requests"
)

func (a *HTTPApp) GetMessages(c echo.Context) error {
	stx := c.(*cs.ContextService)
	messages, err := a.node.GetMessages()
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, messages)
}

func (a *HTTPApp) GetMessage(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &MessageIdDTO{}
	if err := stx.BindToDTO(&req.MessageIdForm{}, formDTO); err != nil {
		return err
	}

	message, err := a.node.GetMessage(formDTO.ID)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, fmt.Errorf("failed to get message: %v", err))
	}
	return stx.Json(http.StatusOK, message)
}

func (a *HTTPApp) ExportMessage(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &MessageIdDTO{}
	if err := stx.BindToDTO(&req.MessageIdForm{}, formDTO); err != nil {
		return err
	}

	blob, err := a.node.ExportMessage(formDTO.ID)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, blob)
}

func (a *HTTPApp) DeleteMessage(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &MessageIdDTO{}
	if err := stx.BindToDTO(&req.MessageIdForm{}, formDTO); err != nil {
		return err
	}

	if err := a.node.DeleteMessage(formDTO.ID); err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, "ok")
}

func (a *HTTPApp) DeleteAllMessages(c echo.Context) error {
	stx := c.(*cs.ContextService)
	if err := a.node.DeleteAllMessages(); err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, "ok")
}

func (a *HTTPApp) AddNote(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &NoteDTO{}
	if err := stx.BindToDTO(&req.NoteForm{}, formDTO); err != nil {
		return err
	}

	message, err := a.node.AddNote(formDTO.Recipient, formDTO.Text)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, message)
}

func (a *HTTPApp) ShowMessage(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &MessageIdDTO{}
	if err := stx.BindToDTO(&req.MessageIdForm{}, formDTO); err != nil {
		return err
	}

	rendered, err := a.node.ShowMessage(formDTO.ID)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, rendered)
}

func (a *HTTPApp) SendMessages(c echo.Context) error {
	stx := c.(*cs.ContextService)
	formDTO := &SendMessagesDTO{}
	if err := stx.BindToDTO(&req.SendMessagesForm{}, formDTO); err != nil {
		return err
	}

	sent, err := a.node.SendReadyMessages(formDTO.ID)
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, sent)
}

func (a *HTTPApp) ReceiveMessages(c echo.Context) error {
	stx := c.(*cs.ContextService)
	received, err := a.node.Receive()
	if err != nil {
		return stx.JsonError(http.StatusInternalServerError, err)
	}
	return stx.Json(http.StatusOK, received)
}
