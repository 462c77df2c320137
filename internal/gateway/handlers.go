package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/metrics"
)

// handleMessage dispatches one client request and acknowledges it exactly
// once, with either a payload or an error.
func (ctl *Controller) handleMessage(ctx context.Context, sess *Session, data []byte) {
	var req api.SignalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("bad json")
		return
	}
	metrics.SignalMessagesTotal.WithLabelValues(req.Type).Inc()

	var payload any
	var err error
	switch req.Type {
	case api.EventWelcome:
		payload, err = ctl.handleWelcome(ctx, req.Payload)
	case api.EventJoin:
		payload, err = ctl.handleJoin(ctx, sess, req.Payload)
	case api.EventLeave:
		err = ctl.handleLeave(ctx, sess)
	case api.EventCreateTransport:
		payload, err = ctl.handleCreateTransport(ctx, sess, req.Payload)
	case api.EventConnectTransport:
		err = ctl.handleConnectTransport(ctx, sess, req.Payload)
	case api.EventSendTrack:
		payload, err = ctl.handleSendTrack(ctx, sess, req.Payload)
	case api.EventRecvTrack:
		payload, err = ctl.handleRecvTrack(ctx, sess, req.Payload)
	case api.EventCloseTransport:
		err = ctl.handleCloseTransport(ctx, sess, req.Payload)
	default:
		log.Warn().Str("module", "gateway").Str("type", req.Type).Msg("unknown signal")
		err = errors.New("unknown request type")
	}
	ctl.ack(sess, req.ID, payload, err)
}

func (ctl *Controller) ack(sess *Session, id int64, payload any, err error) {
	ack := api.SignalAck{ID: id, Type: api.EventAck}
	if err != nil {
		ack.Error = err.Error()
	} else if payload != nil {
		raw, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			log.Error().Err(marshalErr).Str("module", "gateway").Msg("marshal ack payload")
			ack.Error = "internal error"
		} else {
			ack.Payload = raw
		}
	}
	data, marshalErr := json.Marshal(ack)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Str("module", "gateway").Msg("marshal ack")
		return
	}
	sess.conn.trySendLogged(data)
}

// handleWelcome lazily creates the room upstream and returns the router
// capabilities the client needs before building any transport.
func (ctl *Controller) handleWelcome(ctx context.Context, raw json.RawMessage) (any, error) {
	var p api.WelcomePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomName == "" {
		return nil, errors.New("roomName not defined")
	}
	caps, err := ctl.backend.CreateRoom(ctx, p.RoomName)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("room", string(p.RoomName)).Msg("could not create room")
		return nil, errors.New("could not create room")
	}
	return api.WelcomeAck{RouterRtpCapabilities: caps}, nil
}

func (ctl *Controller) handleJoin(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	var p api.JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomName == "" {
		return nil, errors.New("roomName not defined")
	}
	if current := sess.Room(); current != "" {
		return nil, domain.ErrAlreadyJoined
	}
	if err := ctl.backend.AddPeer(ctx, p.RoomName, sess.SocketID); err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("room", string(p.RoomName)).Msg("could not join peer")
		return nil, errors.New("could not join room")
	}
	if err := sess.EnterRoom(p.RoomName); err != nil {
		return nil, err
	}
	online := ctl.presence.Join(p.RoomName, sess)
	log.Info().Str("module", "gateway").Str("socket", string(sess.SocketID)).Str("room", string(p.RoomName)).Msg("join")
	return api.JoinAck{OnlinePeers: online}, nil
}

// handleLeave is also the disconnect path; see handleDisconnect.
func (ctl *Controller) handleLeave(ctx context.Context, sess *Session) error {
	roomName, ok := sess.LeaveRoom()
	if !ok {
		return domain.ErrNotJoined
	}
	ctl.cleanupPeer(ctx, sess, roomName)
	log.Info().Str("module", "gateway").Str("socket", string(sess.SocketID)).Str("room", string(roomName)).Msg("leave")
	return nil
}

// handleDisconnect runs the same cleanup as an explicit leave when the
// underlying connection drops, whether or not leave was ever sent.
func (ctl *Controller) handleDisconnect(sess *Session) {
	roomName, ok := sess.LeaveRoom()
	if !ok {
		return
	}
	// The connection context is gone; cleanup gets its own deadline from the
	// backend client's timeout.
	ctl.cleanupPeer(context.Background(), sess, roomName)
	log.Info().Str("module", "gateway").Str("socket", string(sess.SocketID)).Str("room", string(roomName)).Msg("disconnect cleanup")
}

// cleanupPeer broadcasts peer-left before any resource is released, closes
// the recv transports this connection owned so remote subscribers are not
// left dangling, then releases the peer upstream.
func (ctl *Controller) cleanupPeer(ctx context.Context, sess *Session, roomName domain.RoomName) {
	ctl.presence.Leave(roomName, sess.SocketID)
	for _, transportID := range sess.TakeTransports(domain.DirectionRecv) {
		if err := ctl.backend.CloseTransport(ctx, roomName, transportID, sess.SocketID); err != nil {
			log.Warn().Err(err).Str("module", "gateway").Str("transport", string(transportID)).Msg("could not close recv transport")
		}
	}
	if err := ctl.backend.RemovePeer(ctx, roomName, sess.SocketID); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Str("socket", string(sess.SocketID)).Msg("could not close peer")
	}
}

// handleCreateTransport validates the direction locally; an invalid value
// never reaches the balancer.
func (ctl *Controller) handleCreateTransport(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	var p api.CreateTransportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("bad payload")
	}
	if !p.Direction.Valid() {
		return nil, domain.ErrBadDirection
	}
	roomName := sess.Room()
	if roomName == "" {
		return nil, domain.ErrNotJoined
	}
	opts, err := ctl.backend.CreateTransport(ctx, roomName, api.CreateTransportRequest{
		FromSocketID: sess.SocketID,
		Direction:    p.Direction,
		ToSocketID:   p.ToSocketID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("socket", string(sess.SocketID)).Msg("could not create transport")
		return nil, errors.New("could not create transport")
	}
	sess.TrackTransport(opts.ID, p.Direction)
	return api.CreateTransportResponse{TransportOptions: *opts}, nil
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p api.ConnectTransportPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TransportID == "" || len(p.DtlsParameters) == 0 {
		return errors.New("transportId and dtlsParameters are required")
	}
	roomName := sess.Room()
	if roomName == "" {
		return domain.ErrNotJoined
	}
	err := ctl.backend.ConnectTransport(ctx, roomName, p.TransportID, api.ConnectTransportRequest{
		FromSocketID:   sess.SocketID,
		DtlsParameters: p.DtlsParameters,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("transport", string(p.TransportID)).Msg("could not connect transport")
		return errors.New("could not connect transport")
	}
	return nil
}

func (ctl *Controller) handleSendTrack(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	var p api.SendTrackPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TransportID == "" || len(p.RtpParameters) == 0 {
		return nil, errors.New("transportId, kind and rtpParameters are required")
	}
	if !p.Kind.Valid() {
		return nil, errors.New("invalid kind")
	}
	roomName := sess.Room()
	if roomName == "" {
		return nil, domain.ErrNotJoined
	}
	producerID, err := ctl.backend.CreateProducer(ctx, roomName, p.TransportID, api.CreateProducerRequest{
		SocketID:      sess.SocketID,
		Kind:          p.Kind,
		RtpParameters: p.RtpParameters,
		Paused:        p.Paused,
		AppData:       p.AppData,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("transport", string(p.TransportID)).Msg("could not send track")
		return nil, errors.New("could not send track")
	}
	return api.SendTrackAck{ID: producerID}, nil
}

func (ctl *Controller) handleRecvTrack(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	var p api.RecvTrackPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TransportID == "" || p.ToSocketID == "" || len(p.RtpCapabilities) == 0 {
		return nil, errors.New("transportId, toSocketId and rtpCapabilities are required")
	}
	roomName := sess.Room()
	if roomName == "" {
		return nil, domain.ErrNotJoined
	}
	resp, err := ctl.backend.CreateConsumer(ctx, roomName, p.TransportID, api.CreateConsumerRequest{
		FromSocketID:    sess.SocketID,
		ToSocketID:      p.ToSocketID,
		MediaTag:        p.MediaTag,
		RtpCapabilities: p.RtpCapabilities,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("to", string(p.ToSocketID)).Msg("could not create consumer")
		return nil, errors.New("could not create a consumer")
	}
	return resp, nil
}

func (ctl *Controller) handleCloseTransport(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p api.CloseTransportPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TransportID == "" {
		return errors.New("transportId is required")
	}
	roomName := sess.Room()
	if roomName == "" {
		return domain.ErrNotJoined
	}
	if err := ctl.backend.CloseTransport(ctx, roomName, p.TransportID, sess.SocketID); err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("transport", string(p.TransportID)).Msg("could not close transport")
		return errors.New("could not close transport")
	}
	sess.ForgetTransport(p.TransportID)
	return nil
}
