package server

import (
	"net/http"

	"app/internal/config"
	"app/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	e   *echo.Echo
	cfg config.Config
}

func New(
	cfg config.Config,
	productHandler *handler.ProductHandler,
	cartHandler *handler.CartHandler,
	orderHandler *handler.OrderHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	productHandler.RegisterRoutes(e)
	cartHandler.RegisterRoutes(e, cfg)
	orderHandler.RegisterRoutes(e, cfg)

	return &Server{e: e, cfg: cfg}
}

// echo.Echoを返す（テスト用）
func (s *Server) Echo() *echo.Echo {
	return s.e
}

func (s *Server) Start() error {
	return s.e.Start(":" + s.cfg.Port)
}
