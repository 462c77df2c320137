package engine

import (
	"encoding/json"
	"testing"
)

func newTestRouter(t *testing.T) Router {
	t.Helper()
	eng := NewMemory()
	router, err := eng.CreateRouter(DefaultMediaCodecs())
	if err != nil {
		t.Fatalf("CreateRouter failed: %v", err)
	}
	return router
}

func videoCaps() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"video/VP8","clockRate":90000}]}`)
}

func TestRouterCapabilities(t *testing.T) {
	router := newTestRouter(t)

	var caps struct {
		Codecs []struct {
			Kind     string `json:"kind"`
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(router.RtpCapabilities(), &caps); err != nil {
		t.Fatalf("capabilities are not valid JSON: %v", err)
	}
	if len(caps.Codecs) == 0 {
		t.Fatal("expected at least one codec")
	}
	kinds := map[string]bool{}
	for _, c := range caps.Codecs {
		kinds[c.Kind] = true
	}
	if !kinds["audio"] || !kinds["video"] {
		t.Errorf("expected audio and video codecs, got %v", kinds)
	}
}

func TestCanConsumeMatchesKind(t *testing.T) {
	router := newTestRouter(t)
	tr, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("CreateTransport failed: %v", err)
	}
	producer, err := tr.Produce("video", json.RawMessage(`{}`), false)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	if !router.CanConsume(producer.ID(), videoCaps()) {
		t.Error("video capabilities should consume a video producer")
	}
	audioOnly := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
	if router.CanConsume(producer.ID(), audioOnly) {
		t.Error("audio-only capabilities should not consume a video producer")
	}
	if router.CanConsume("unknown-id", videoCaps()) {
		t.Error("unknown producer should not be consumable")
	}
}

func TestTransportCloseCascades(t *testing.T) {
	router := newTestRouter(t)
	sendTr, _ := router.CreateTransport()
	recvTr, _ := router.CreateTransport()

	producer, err := sendTr.Produce("video", json.RawMessage(`{}`), false)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	consumer, err := recvTr.Consume(producer.ID(), videoCaps())
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	producerClosed, consumerClosed := false, false
	producer.OnClose(func() { producerClosed = true })
	consumer.OnClose(func() { consumerClosed = true })

	// Closing the send transport must take the producer down, and the
	// producer must take its consumer down even though the consumer rides
	// on a different transport.
	sendTr.Close()

	if !producerClosed {
		t.Error("producer should close with its transport")
	}
	if !consumerClosed {
		t.Error("consumer should close with its source producer")
	}
	if router.CanConsume(producer.ID(), videoCaps()) {
		t.Error("closed producer should be deregistered from the router")
	}
}

func TestProducerCloseClosesConsumer(t *testing.T) {
	router := newTestRouter(t)
	sendTr, _ := router.CreateTransport()
	recvTr, _ := router.CreateTransport()

	producer, _ := sendTr.Produce("audio", json.RawMessage(`{}`), false)
	consumer, err := recvTr.Consume(producer.ID(), json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`))
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	closed := false
	consumer.OnClose(func() { closed = true })
	producer.Close()
	if !closed {
		t.Error("consumer must not outlive its producer")
	}

	// Double close is a no-op.
	producer.Close()
}

func TestOnCloseAfterCloseFiresImmediately(t *testing.T) {
	router := newTestRouter(t)
	tr, _ := router.CreateTransport()
	tr.Close()

	fired := false
	tr.OnClose(func() { fired = true })
	if !fired {
		t.Error("OnClose after close should fire immediately")
	}

	if _, err := tr.Produce("audio", json.RawMessage(`{}`), false); err == nil {
		t.Error("Produce on a closed transport should fail")
	}
	if err := tr.Connect(json.RawMessage(`{"role":"client"}`)); err == nil {
		t.Error("Connect on a closed transport should fail")
	}
}

func TestRouterCloseClosesTransports(t *testing.T) {
	router := newTestRouter(t)
	tr, _ := router.CreateTransport()

	closed := false
	tr.OnClose(func() { closed = true })
	router.Close()
	if !closed {
		t.Error("router close should close its transports")
	}
	if _, err := router.CreateTransport(); err == nil {
		t.Error("CreateTransport on a closed router should fail")
	}
}
