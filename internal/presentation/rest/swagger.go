package rest

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"ticket-wallet/internal/presentation/openapi"
)

const (
	openAPIPath  = "/openapi.yaml"
	redocVersion = "2.1.5"
)

// redocPage ReDocのHTML（%[1]sにタイトル、%[2]sに仕様のURL、%[3]sにReDocのバージョン）
const redocPage = `<!DOCTYPE html>
<html>
<head>
	<title>%[1]s</title>
	<meta charset="utf-8"/>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<link href="https://fonts.googleapis.com/css?family=Montserrat:300,400,700|Roboto:300,400,700" rel="stylesheet">
	<style>body { margin: 0; padding: 0; }</style>
</head>
<body>
	<redoc spec-url="%[2]s"></redoc>
	<script src="https://cdn.jsdelivr.net/npm/redoc@%[3]s/bundles/redoc.standalone.js"></script>
</body>
</html>`

// SetupSwagger APIドキュメント（OpenAPI・Swagger UI・ReDoc）を設定
func SetupSwagger(e *echo.Echo) {
	e.GET(openAPIPath, func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", openapi.Spec)
	})

	e.GET("/swagger", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	e.GET("/swagger/*", echoSwagger.EchoWrapHandler(
		echoSwagger.URL(openAPIPath),
		echoSwagger.DocExpansion("none"),
	))

	page := fmt.Sprintf(redocPage, "Ticket Wallet API - ReDoc", openAPIPath, redocVersion)
	e.GET("/redoc", func(c echo.Context) error {
		return c.HTML(http.StatusOK, page)
	})
}
