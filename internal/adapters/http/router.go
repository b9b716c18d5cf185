package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/adapters/signal"
	"github.com/veilcall/morph/internal/config"
	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/store"
)

// ClientTokenMiddleware gives every browser a stable participant id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type sessionView struct {
	ID           domain.SessionID       `json:"id"`
	State        string                 `json:"state"`
	Participants []domain.ParticipantID `json:"participants"`
	Config       domain.TransformConfig `json:"config"`
	CreatedAt    int64                  `json:"createdAt"`
	EndedAt      int64                  `json:"endedAt,omitempty"`
}

func viewOf(s domain.Session) sessionView {
	v := sessionView{
		ID:           s.ID,
		State:        s.State.String(),
		Participants: s.Participants,
		Config:       s.Config,
		CreatedAt:    s.CreatedAt.Unix(),
	}
	if !s.EndedAt.IsZero() {
		v.EndedAt = s.EndedAt.Unix()
	}
	return v
}

func SetupRouter(ctx context.Context, cfg *config.Config, st store.SessionStore, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MorphSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("participant", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	api.GET("/sessions", func(c *gin.Context) {
		all := st.List()
		out := make([]sessionView, 0, len(all))
		for _, s := range all {
			out = append(out, viewOf(s))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	api.GET("/session/:id", func(c *gin.Context) {
		sess, err := st.Get(domain.SessionID(c.Param("id")))
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, viewOf(sess))
	})

	return r
}
