package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
)

type HTTPServer struct {
	Echo *echo.Echo
	Site *Site
	log  zerolog.Logger
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(s)
}

// NewHTTPServer wires the REST endpoint and the control routes of site.
func NewHTTPServer(site *Site, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		Echo: echo.New(),
		Site: site,
		log:  log,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(s.requestContext)
	s.Echo.Use(s.logRequests)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	s.Echo.GET("/hc", s.HealthCheck)
	s.Echo.POST(transport.ServerPath, s.Server)

	control := s.Echo.Group("/mock")
	control.POST("/failures", s.InjectFailure)
	control.DELETE("/failures/:function", s.ClearFailure)
	control.GET("/calls", s.Calls)

	return s
}

// Start serves h2c on listener until Shutdown.
func (s *HTTPServer) Start(listener net.Listener) error {
	s.Echo.Listener = listener
	s.log.Info().Msg("starting h2c server on " + listener.Addr().String())
	err := s.Echo.StartH2CServer("", &http2.Server{})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Server answers a REST call. Like the real endpoint it reports
// web-service failures with HTTP 200 and an exception body.
func (s *HTTPServer) Server(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if form.Get("wstoken") != s.Site.Token {
		return c.JSON(http.StatusOK, &wsException{
			Exception: "moodle_exception",
			ErrorCode: "invalidtoken",
			Message:   "Invalid token - token not found",
		})
	}

	name := form.Get("wsfunction")
	if name == "" {
		name = c.QueryParam("wsfunction")
	}
	for k := range form {
		if k == "wstoken" || k == "wsfunction" || strings.HasPrefix(k, "moodlews") {
			form.Del(k)
		}
	}

	data, err := s.Site.Invoke(name, form)
	if err != nil {
		var ex *wsException
		if errors.As(err, &ex) {
			return c.JSON(http.StatusOK, ex)
		}
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("function", name).Msg("function failed")
		return c.String(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, data)
}

type failureRequest struct {
	Function  string `json:"function" validate:"required"`
	ErrorCode string `json:"errorcode" validate:"required"`
	Message   string `json:"message"`
}

func (s *HTTPServer) InjectFailure(c echo.Context) error {
	var req failureRequest
	if err := ValidateRequest(c, &req); err != nil {
		return err
	}
	s.Site.InjectFailure(req.Function, req.ErrorCode, req.Message)
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) ClearFailure(c echo.Context) error {
	s.Site.ClearFailure(c.Param("function"))
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) Calls(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Site.Calls())
}

func (s *HTTPServer) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		l := s.log.With().Str("reqID", reqID).Logger()
		c.SetRequest(c.Request().WithContext(l.WithContext(c.Request().Context())))
		c.Response().Header().Set(echo.HeaderXRequestID, reqID)
		return next(c)
	}
}

func (s *HTTPServer) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req := c.Request()
		zerolog.Ctx(req.Context()).Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("wsfunction", req.URL.Query().Get("wsfunction")).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Str("protocol", req.Proto).
			Msg("request")
		return nil
	}
}
