package controller

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger loads the embedded description of the portal's JSON API.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return doc, nil
}

// RegisterAPIHandlers wires the JSON API onto g. Every route here must be in
// openapi.yaml, the request validator rejects anything else.
func RegisterAPIHandlers(g *echo.Group, c *Controller) {
	g.GET("/ping", c.CheckServer)
	g.GET("/session", c.GetSession)
	g.POST("/session/login", c.Login)
	g.POST("/session/register", c.Register)
	g.POST("/session/logout", c.Logout)
	g.GET("/me", c.GetMe)
	g.PUT("/me", c.UpdateMe)
	g.DELETE("/me", c.DeleteMe)
}

// RegisterPages wires the page routes behind the application checkpoint.
func RegisterPages(e *echo.Echo, c *Controller) {
	e.GET("/", c.Home)
	e.GET("/login", c.AuthPage("login"), c.RedirectAuthenticated)
	e.GET("/register", c.AuthPage("register"), c.RedirectAuthenticated)
	e.GET("/dashboard", c.ProtectedPage("dashboard"), c.RequireSession)
	e.GET("/profile", c.ProtectedPage("profile"), c.RequireSession)
}
