package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/visual"

	"github.com/labstack/echo/v4"
)

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) checkAdminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "checkAdminAuth")
		defer span.End()

		c.SetRequest(c.Request().WithContext(ctx))

		if srv.adminToken == "" {
			return echo.ErrForbidden
		}
		token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(srv.adminToken)) != 1 {
			return echo.ErrForbidden
		}
		return next(c)
	}
}

// Responds with the status matching an engine error class.
func (srv *Server) engineError(c echo.Context, kind string, err error) error {
	status := scan.HTTPStatus(err)
	webhooksRejected.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	if status >= 500 {
		srv.logger.Warn("request failed", "kind", kind, "status", status, "err", err)
	}
	return c.JSON(status, errorBody{Error: err.Error(), Retryable: scan.IsRetryable(err)})
}

func (srv *Server) processSubmission(c echo.Context, kind string, sub *scan.Submission) error {
	out, err := srv.engine.ProcessSubmission(c.Request().Context(), sub)
	if err != nil {
		return srv.engineError(c, kind, err)
	}
	return c.JSON(http.StatusOK, out)
}

func decodeBody(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return &scan.ValidationError{Message: "invalid JSON body", Err: err}
	}
	return nil
}

// Path parameters may arrive still escaped when the raw path needed it (eg, "%2F").
func pathParam(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (srv *Server) HandleScanResult(c echo.Context) error {
	webhooksReceived.WithLabelValues("scan-result").Inc()
	var sub scan.Submission
	if err := decodeBody(c, &sub); err != nil {
		return srv.engineError(c, "scan-result", err)
	}
	return srv.processSubmission(c, "scan-result", &sub)
}

// Receives a raw classification response from Hive, and processes it as a sentiment submission.
func (srv *Server) HandleHiveResult(c echo.Context) error {
	webhooksReceived.WithLabelValues("hive").Inc()
	mediaID, err := strconv.ParseInt(c.Param("mediaID"), 10, 64)
	if err != nil || mediaID <= 0 {
		return srv.engineError(c, "hive", &scan.ValidationError{Message: "invalid media ID", Err: err})
	}
	var resp visual.HiveResp
	if err := decodeBody(c, &resp); err != nil {
		return srv.engineError(c, "hive", err)
	}
	sub, err := resp.ToSubmission(mediaID)
	if err != nil {
		return srv.engineError(c, "hive", &scan.ValidationError{Message: "unusable hive response", Err: err})
	}
	return srv.processSubmission(c, "hive", sub)
}

type tagLevelBody struct {
	Level *int `json:"level"`
}

func (srv *Server) HandleSetTagLevel(c echo.Context) error {
	adminRequests.WithLabelValues("set-tag-level").Inc()
	var body tagLevelBody
	if err := decodeBody(c, &body); err != nil {
		return srv.engineError(c, "admin", err)
	}
	if body.Level == nil || !level.Valid(*body.Level) {
		return srv.engineError(c, "admin", &scan.ValidationError{Message: "level must be one of 0, 1, 2, 4, 8, 16, 32"})
	}
	tag, err := srv.engine.SetTagLevel(c.Request().Context(), srv.tags, pathParam(c, "name"), *body.Level)
	if err != nil {
		return srv.engineError(c, "admin", err)
	}
	return c.JSON(http.StatusOK, tag)
}

type ignoreStatus struct {
	Tag     string `json:"tag"`
	Source  string `json:"source"`
	Ignored bool   `json:"ignored"`
}

// POST adds the tag to the source's ignore list; DELETE removes it.
func (srv *Server) HandleIgnoreTag(c echo.Context) error {
	adminRequests.WithLabelValues("ignore-tag").Inc()
	src, err := scan.ParseSource(c.Param("source"))
	if err != nil {
		return srv.engineError(c, "admin", &scan.ValidationError{Message: "invalid source", Err: err})
	}
	name := pathParam(c, "name")
	ignored := c.Request().Method != http.MethodDelete
	if err := srv.engine.SetTagIgnored(c.Request().Context(), src, name, ignored); err != nil {
		return srv.engineError(c, "admin", err)
	}
	return c.JSON(http.StatusOK, ignoreStatus{Tag: name, Source: src.String(), Ignored: ignored})
}

type statsBody struct {
	// distinct users with a blocked upload, by counter period
	BlockedUsers map[string]int `json:"blockedUsers"`
}

func (srv *Server) HandleStats(c echo.Context) error {
	adminRequests.WithLabelValues("stats").Inc()
	out := statsBody{BlockedUsers: make(map[string]int, len(countstore.AllPeriods))}
	for _, p := range countstore.AllPeriods {
		n, err := srv.engine.BlockedUserCount(c.Request().Context(), p)
		if err != nil {
			return srv.engineError(c, "admin", scan.Transient("reading counters", err))
		}
		out.BlockedUsers[string(p)] = n
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if srv.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := srv.ping(ctx); err != nil {
			srv.logger.Error("health check failed", "err", err)
			return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "sieve", Message: "database not available"})
		}
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "sieve"})
}
