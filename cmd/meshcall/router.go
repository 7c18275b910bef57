package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmeet/meshcall/internal/config"
	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/session"
)

type statusResponse struct {
	State        string                  `json:"state"`
	Error        string                  `json:"error,omitempty"`
	Self         domain.Participant      `json:"self"`
	Participants []domain.Participant    `json:"participants"`
	Media        domain.MediaDeviceState `json:"media"`
}

type toggleRequest struct {
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// setupRouter exposes the local diagnostics surface: session state plus
// media toggles to drive the engine without a UI.
func setupRouter(cfg *config.Config, sess *session.Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		resp := statusResponse{
			State:        sess.State().String(),
			Self:         sess.Self(),
			Participants: sess.Participants(),
			Media:        sess.MediaState(),
		}
		if err := sess.Err(); err != nil {
			resp.Error = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/devices", func(c *gin.Context) {
		devices, err := sess.Devices()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, devices)
	})

	api.POST("/media", func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid body"})
			return
		}
		var err error
		switch req.Kind {
		case "mic":
			if req.Enabled {
				err = sess.EnableMic(c.Request.Context())
			} else {
				err = sess.DisableMic()
			}
		case "camera":
			if req.Enabled {
				err = sess.EnableCamera(c.Request.Context())
			} else {
				err = sess.DisableCamera()
			}
		case "screen":
			if req.Enabled {
				err = sess.StartScreenShare(c.Request.Context())
			} else {
				err = sess.StopScreenShare()
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown media kind"})
			return
		}
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess.MediaState())
	})

	return r
}
