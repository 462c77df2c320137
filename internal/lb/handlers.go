package lb

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/config"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/metrics"
)

type Server struct {
	reg   *Registry
	proxy *Proxy
}

func NewServer(reg *Registry, proxy *Proxy) *Server {
	return &Server{reg: reg, proxy: proxy}
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

	r.PUT("/worker/status", s.reportStatus)
	r.GET("/worker/status", s.listWorkers)

	client := r.Group("/client")
	client.POST("/rooms", s.createRoom)
	client.POST("/rooms/:roomName/peers", s.addPeer)
	client.DELETE("/rooms/:roomName/peers/:socketId", s.removePeer)
	client.POST("/rooms/:roomName/transports", s.createTransport)
	client.PUT("/rooms/:roomName/transports/:transportId", s.connectTransport)
	client.DELETE("/rooms/:roomName/transports/:transportId", s.closeTransport)
	client.POST("/rooms/:roomName/transports/:transportId/producers", s.createProducer)
	client.POST("/rooms/:roomName/transports/:transportId/consumers", s.createConsumer)

	return r
}

func (s *Server) reportStatus(c *gin.Context) {
	var status api.WorkerStatus
	if err := c.ShouldBindJSON(&status); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "uuid and url are required"})
		return
	}
	s.reg.Upsert(status)
	metrics.HeartbeatsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.Snapshot())
}

func (s *Server) createRoom(c *gin.Context) {
	var req api.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "roomName not defined"})
		return
	}
	resp, err := s.proxy.CreateRoom(c.Request.Context(), req.RoomName)
	if err != nil {
		s.relayError(c, "create_room", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("create_room", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) addPeer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	var req api.AddPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "socketId not defined"})
		return
	}
	if err := s.proxy.AddPeer(c.Request.Context(), roomName, req.SocketID); err != nil {
		s.relayError(c, "add_peer", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("add_peer", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) removePeer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	socketID := domain.SocketID(c.Param("socketId"))
	if err := s.proxy.RemovePeer(c.Request.Context(), roomName, socketID); err != nil {
		s.relayError(c, "remove_peer", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("remove_peer", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) createTransport(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	var req api.CreateTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId not defined"})
		return
	}
	if !req.Direction.Valid() {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid direction"})
		return
	}
	resp, err := s.proxy.CreateTransport(c.Request.Context(), roomName, req)
	if err != nil {
		s.relayError(c, "create_transport", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("create_transport", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) connectTransport(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	transportID := domain.TransportID(c.Param("transportId"))
	var req api.ConnectTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId or dtlsParameters not defined"})
		return
	}
	if err := s.proxy.ConnectTransport(c.Request.Context(), roomName, transportID, req); err != nil {
		s.relayError(c, "connect_transport", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("connect_transport", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) closeTransport(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	transportID := domain.TransportID(c.Param("transportId"))
	fromSocketID := domain.SocketID(c.Query("fromSocketId"))
	if fromSocketID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId not defined"})
		return
	}
	if err := s.proxy.CloseTransport(c.Request.Context(), roomName, transportID, fromSocketID); err != nil {
		s.relayError(c, "close_transport", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("close_transport", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) createProducer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
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
	resp, err := s.proxy.CreateProducer(c.Request.Context(), roomName, transportID, req)
	if err != nil {
		s.relayError(c, "create_producer", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("create_producer", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createConsumer(c *gin.Context) {
	roomName := domain.RoomName(c.Param("roomName"))
	transportID := domain.TransportID(c.Param("transportId"))
	var req api.CreateConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "fromSocketId, toSocketId or rtpCapabilities not defined"})
		return
	}
	resp, err := s.proxy.CreateConsumer(c.Request.Context(), roomName, transportID, req)
	if err != nil {
		s.relayError(c, "create_consumer", err)
		return
	}
	metrics.ProxiedRequestsTotal.WithLabelValues("create_consumer", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

// relayError maps the proxy's error taxonomy to the client-facing statuses:
// unroutable rooms and exhausted capacity answer 503, worker failures 502.
func (s *Server) relayError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoCapacity):
		metrics.ProxiedRequestsTotal.WithLabelValues(operation, "no_worker").Inc()
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "No worker found"})
	default:
		metrics.ProxiedRequestsTotal.WithLabelValues(operation, "upstream_error").Inc()
		log.Error().Err(err).Str("module", "lb.handlers").Str("operation", operation).Msg("proxy failed")
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "upstream error"})
	}
}
