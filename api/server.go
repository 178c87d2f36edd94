// Package api exposes the pull-based query surface: exported footprint rows
// per timeframe and the current local order book.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
	"github.com/HuzaifaIlyas02/FootPrintChart/export"
)

const defaultBookDepth = 50

// FootprintData serves the last exported dataset per timeframe.
type FootprintData interface {
	Rows(tf domain.Timeframe) ([]export.Row, error)
}

// BookData serves consistent order book views.
type BookData interface {
	View(limit int) *domain.BookView
}

type Server struct {
	footprint FootprintData
	book      BookData
	log       *logrus.Entry
	router    *gin.Engine
}

func NewServer(footprint FootprintData, book BookData, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		footprint: footprint,
		book:      book,
		log:       log.WithField("component", "api"),
		router:    gin.New(),
	}
	s.router.Use(gin.Recovery())

	s.router.GET("/health", s.health)
	s.router.GET("/api/footprint/history/:timeframe", s.footprintHistory)
	s.router.GET("/api/orderbook", s.orderBook)

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("api server listening")
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) footprintHistory(c *gin.Context) {
	tf, err := domain.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
		return
	}

	rows, err := s.footprint.Rows(tf)
	switch {
	case errors.Is(err, domain.ErrUnknownTimeframe):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
	case errors.Is(err, domain.ErrNoData):
		c.JSON(http.StatusNotFound, gin.H{"error": "data not found for timeframe"})
	case err != nil:
		s.log.WithError(err).Error("footprint history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, rows)
	}
}

func (s *Server) orderBook(c *gin.Context) {
	limit := defaultBookDepth
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, s.book.View(limit))
}
