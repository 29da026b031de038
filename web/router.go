package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/quillhost/quill/federation"
	"github.com/quillhost/quill/util"
	"golang.org/x/time/rate"
)

// Handler bundles the dependencies the HTTP layer needs.
type Handler struct {
	Service *federation.Service
	Conf    *util.AppConfig
}

func NewHandler(service *federation.Service, conf *util.AppConfig) *Handler {
	return &Handler{Service: service, Conf: conf}
}

// Router builds the gin engine. Callers run it themselves so tests can
// drive it through httptest.
func (h *Handler) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS feed per blog
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		slug := c.Query("blog")
		rss, err := h.GetRSS(slug)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	if h.Conf.Conf.WithFed {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		fedLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for incoming activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/users/:slug", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := h.GetActorDoc(c.Param("slug"))
			if err != nil {
				c.Render(404, render.String{Format: doc})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.GET("/users/:slug/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := h.GetOutbox(c.Param("slug"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.GET("/users/:slug/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := h.GetFollowers(c.Param("slug"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.GET("/users/:slug/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := h.GetFollowing(c.Param("slug"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.GET("/posts/:slug/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := h.GetPostObject(c.Param("slug"), c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Post not found"})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.POST("/inbox", RateLimitMiddleware(fedLimiter), maxBodySize, func(c *gin.Context) {
			log.Println("POST /inbox (shared inbox)")
			h.handleInbox(c, "")
		})

		g.POST("/users/:slug/inbox", RateLimitMiddleware(fedLimiter), maxBodySize, func(c *gin.Context) {
			slug := c.Param("slug")
			log.Printf("POST /users/%s/inbox", slug)
			h.handleInbox(c, slug)
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", h.Conf.Conf.SslDomain))
			err, resp := h.GetWebfinger(resource)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})
	}

	return g
}

// handleInbox verifies the signature, parses the activity and dispatches
// it. The slug is empty for the shared inbox; a per-actor inbox rejects
// unknown actors before any processing.
func (h *Handler) handleInbox(c *gin.Context, slug string) {
	if slug != "" {
		if _, err := h.Service.LocalActorBySlug(slug); err != nil {
			c.Status(http.StatusNotFound)
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	activity, err := federation.ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: Malformed activity: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	signer, err := h.Service.VerifyInboundRequest(c.Request, body)
	if err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	// The signer must be the actor the activity claims; a valid signature
	// from someone else is still a forgery.
	if signer != activity.Actor {
		log.Printf("Inbox: signer %s does not match activity actor %s", signer, activity.Actor)
		c.Status(http.StatusBadRequest)
		return
	}

	if err := h.Service.ProcessActivity(activity); err != nil {
		log.Printf("Inbox: Failed to process %s activity: %v", activity.Type, err)
	}

	// Processing outcomes never leak to the sender.
	c.Status(http.StatusAccepted)
}

// Run starts the HTTP server on the configured port.
func (h *Handler) Run() error {
	log.Printf("Starting federation server on %s:%d", h.Conf.Conf.Host, h.Conf.Conf.HttpPort)
	return h.Router().Run(fmt.Sprintf(":%d", h.Conf.Conf.HttpPort))
}
