package feeds

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes one simulated source over HTTP, mirroring how a real feed
// would be polled. Each source gets its own listener so takers can mix
// healthy and misbehaving feeds in one run.
type Server struct {
	sim    *Simulator
	source string
	router *gin.Engine
}

func NewServer(sim *Simulator, source string, logger *zap.Logger) *Server {
	s := &Server{sim: sim, source: source}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/price", s.getPrice)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "source": source})
	})
	s.router = router

	logger.Info("feed server ready", zap.String("source", source))
	return s
}

func (s *Server) getPrice(c *gin.Context) {
	ev, err := s.sim.Observe(s.source)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
