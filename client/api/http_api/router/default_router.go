package router

import (
	"github.com/labstack/echo/v4"

	"github.com/depools/mms/client/api/http_api/handlers"
	"github.com/depools/mms/client/services/node"
)

func SetRouter(e *echo.Echo, authHandler echo.MiddlewareFunc, node node.NodeService) {
	h := handlers.NewHTTPApp(node)

	e.GET("/getStatus", h.GetStatus)

	e.POST("/initWallet", h.InitWallet)
	e.POST("/setSigner", h.SetSigner)
	e.GET("/getSigners", h.GetSigners)

	e.GET("/getMessages", h.GetMessages)
	e.GET("/getMessage", h.GetMessage)
	e.GET("/exportMessage", h.ExportMessage)
	e.POST("/deleteMessage", h.DeleteMessage)
	e.POST("/deleteAllMessages", h.DeleteAllMessages)

	e.GET("/getNextActions", h.GetNextActions)
	e.POST("/next", h.Next)
	e.POST("/sendMessages", h.SendMessages)
	e.POST("/receiveMessages", h.ReceiveMessages)

	e.POST("/addNote", h.AddNote)
	e.GET("/showMessage", h.ShowMessage)

	e.POST("/setOption", h.SetOption)
	e.GET("/getOption", h.GetOption)

	e.POST("/startAutoConfig", h.StartAutoConfig)
	e.POST("/stopAutoConfig", h.StopAutoConfig)
	e.POST("/autoConfig", h.AutoConfig)

	e.POST("/proposeTransfer", h.ProposeTransfer)
}
