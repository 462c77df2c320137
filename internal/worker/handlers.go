package worker

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/config"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Server is the resource-lifecycle HTTP surface the balancer proxies into.
type Server struct {
	reg     *Registry
	id      domain.WorkerID
	baseURL string
	cpuLoad func() float64
}

func NewServer(reg *Registry, id domain.WorkerID, baseURL string, cpuLoad func() float64) *Server {
	return &Server{reg: reg, id: id, baseURL: baseURL, cpuLoad: cpuLoad}
}

func SetupRouter(cfg *config.Config, s *Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/rooms", s.createRoom)
	r.POST("/rooms/:roomName/peers", s.addPeer)
	r.DELETE("/rooms/:roomName/peers/:socketId", s.removePeer)
	r.POST("/rooms/:roomName/transports", s.createTransport)
	r.PUT("/rooms/:roomName/transports/:transportId", s.connectTransport)
	r.DELETE("/rooms/:roomName/transports/:transportId", s.closeTransport)
	r.POST("/rooms/:roomName/transports/:transportId/producers", s.createProducer)
	r.POST("/rooms/:roomName/transports/:transportId/consumers", s.createConsumer)

	return r
}

func (s *Server) createRoom(c *gin.Context) {
	var req api.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "roomName not defined"})
		return
	}
	router, err := s.reg.CreateOrGetRoom(req.RoomName)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := s.reg.Status(s.id, s.baseURL, s.cpuLoad())
	c.JSON(http.StatusOK, api.CreateRoomResponse{
		RouterRtpCapabilities: router.RtpCapabilities(),
		MediaWorkerStatus:     &status,
	})
}

func (s *Server) addPeer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	var req api.AddPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "socketId not defined"})
		return
	}
	if err := s.reg.AddPeer(roomName, req.SocketID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) removePeer(c *gin.Context) {
	socketID := domain.SocketID(c.Param("socketId"))
	s.reg.ClosePeer(socketID)
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) createTransport(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	var req api.CreateTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId not defined"})
		return
	}
	_, info, err := s.reg.CreateTransport(roomName, req.FromSocketID, req.Direction, req.ToSocketID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.CreateTransportResponse{
		TransportOptions: api.TransportOptions{
			ID:             domain.TransportID(info.ID),
			IceParameters:  info.IceParameters,
			IceCandidates:  info.IceCandidates,
			DtlsParameters: info.DtlsParameters,
		},
	})
}

func (s *Server) connectTransport(c *gin.Context) {
	transportID := domain.TransportID(c.Param("transportId"))
	var req api.ConnectTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId or dtlsParameters not defined"})
		return
	}
	if err := s.reg.ConnectTransport(transportID, req.FromSocketID, req.DtlsParameters); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) closeTransport(c *gin.Context) {
	transportID := domain.TransportID(c.Param("transportId"))
	fromSocketID := domain.SocketID(c.Query("fromSocketId"))
	if fromSocketID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId not defined"})
		return
	}
	if err := s.reg.CloseTransport(transportID, fromSocketID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) createProducer(c *gin.Context) {
	transportID := domain.TransportID(c.Param("transportId"))
	var req api.CreateProducerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "socketId, kind or rtpParameters not defined"})
		return
	}
	if !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid kind"})
		return
	}
	producer, err := s.reg.CreateProducer(transportID, req.SocketID, req.Kind, req.RtpParameters, req.Paused, req.AppData)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.CreateProducerResponse{ProducerID: producer.ID})
}

func (s *Server) createConsumer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	transportID := domain.TransportID(c.Param("transportId"))
	var req api.CreateConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId, toSocketId or rtpCapabilities not defined"})
		return
	}
	resp, err := s.reg.CreateConsumer(transportID, roomName, req.FromSocketID, req.ToSocketID, req.MediaTag, req.RtpCapabilities)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBadDirection):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, api.ErrorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("module", "worker.handlers").Msg("operation failed")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
	}
}
