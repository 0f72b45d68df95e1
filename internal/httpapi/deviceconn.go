package httpapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/gatewayd/internal/mcpdevice"
	"github.com/antoniostano/gatewayd/internal/observability"
	"github.com/antoniostano/gatewayd/internal/protocol"
	"github.com/antoniostano/gatewayd/internal/report"
	"github.com/antoniostano/gatewayd/internal/ttsengine"
)

// deviceConn is the single write-path adapter for one device socket: it
// implements every outbound-facing interface the pipeline needs
// (connection.Writer, ttsengine.Sink, mcpdevice.Sender, toolhandler.IoTSender)
// and serializes all of them onto one gorilla/websocket connection through
// a buffered channel, mirroring the teacher's single-writer-goroutine
// pattern so concurrent pipeline stages never race on the same socket.
type deviceConn struct {
	conn       *websocket.Conn
	sessionID  string
	metrics    *observability.Metrics
	reportQ    *report.Queue
	sampleRate int

	mu          sync.Mutex
	outCh       chan wireFrame
	closed      bool
	pendingText string
	pendingOpus [][]byte
}

// wireFrame is either a JSON control message or a binary payload to be
// written immediately after the JSON message that announced it.
type wireFrame struct {
	json   any
	binary []byte
}

func newDeviceConn(conn *websocket.Conn, sessionID string, metrics *observability.Metrics, reportQ *report.Queue, sampleRate int) *deviceConn {
	return &deviceConn{
		conn:       conn,
		sessionID:  sessionID,
		metrics:    metrics,
		reportQ:    reportQ,
		sampleRate: sampleRate,
		outCh:      make(chan wireFrame, 256),
	}
}

func (d *deviceConn) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-d.outCh:
			if !ok {
				return
			}
			_ = d.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if f.json != nil {
				if err := d.conn.WriteJSON(f.json); err != nil {
					d.metrics.WSWriteErrors.Inc()
					return
				}
			}
			if len(f.binary) > 0 {
				if err := d.conn.WriteMessage(websocket.BinaryMessage, f.binary); err != nil {
					d.metrics.WSWriteErrors.Inc()
					return
				}
			}
		}
	}
}

func (d *deviceConn) closeWriter() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.outCh)
}

func (d *deviceConn) enqueue(f wireFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.outCh <- f:
	default:
		// Outbound queue saturated; dropping keeps the writer goroutine
		// from ever blocking the pipeline that feeds it.
	}
}

// setSampleRate records the sample rate negotiated in the device's hello
// message so report-queue entries carry accurate audio parameters instead
// of the queue's 16kHz fallback.
func (d *deviceConn) setSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	d.mu.Lock()
	d.sampleRate = rate
	d.mu.Unlock()
}

func (d *deviceConn) writeHello(sessionID string, audio protocol.AudioParams) {
	d.enqueue(wireFrame{json: protocol.OutHello{Type: protocol.TypeHello, SessionID: sessionID, AudioParams: audio}})
	d.metrics.WSMessages.WithLabelValues("outbound", "hello").Inc()
}

// WriteSTT implements connection.Writer. The recognized text is also
// forwarded to the chat-history report queue (C13), mirroring the
// teacher's pattern of reporting the user side of a turn as soon as ASR
// finalizes it rather than waiting for the assistant's reply.
func (d *deviceConn) WriteSTT(_ context.Context, text string) error {
	d.enqueue(wireFrame{json: protocol.OutSTT{Type: protocol.TypeSTT, Text: text, SessionID: d.sessionID}})
	d.metrics.WSMessages.WithLabelValues("outbound", "stt").Inc()
	if d.reportQ != nil {
		d.mu.Lock()
		rate := d.sampleRate
		d.mu.Unlock()
		d.reportQ.EnqueueUser(text, nil, rate)
	}
	return nil
}

// WriteTTSFrame implements connection.Writer and ttsengine.Sink (Send
// delegates here, Frame carries the same fields either way). Only the
// first and last frame of a sentence carry a JSON control header
// (sentence_start/sentence_end); frames in between are binary-only so a
// multi-frame sentence doesn't re-announce itself on every 60ms frame.
func (d *deviceConn) WriteTTSFrame(_ context.Context, frame ttsengine.Frame) error {
	wf := wireFrame{binary: frame.Opus}
	switch frame.State {
	case ttsengine.SentenceFirst:
		wf.json = protocol.OutTTS{Type: protocol.TypeTTS, State: protocol.TTSStateSentenceStart, Text: frame.Text, SessionID: d.sessionID}
		d.mu.Lock()
		d.pendingText = frame.Text
		d.pendingOpus = nil
		d.mu.Unlock()
	case ttsengine.SentenceLast:
		wf.json = protocol.OutTTS{Type: protocol.TypeTTS, State: protocol.TTSStateSentenceEnd, SessionID: d.sessionID}
	}
	if len(frame.Opus) > 0 {
		d.mu.Lock()
		d.pendingOpus = append(d.pendingOpus, frame.Opus)
		d.mu.Unlock()
	}
	if frame.State == ttsengine.SentenceLast && d.reportQ != nil {
		d.mu.Lock()
		text, opus, rate := d.pendingText, d.pendingOpus, d.sampleRate
		d.pendingText, d.pendingOpus = "", nil
		d.mu.Unlock()
		d.reportQ.EnqueueAssistant(text, opus, rate)
	}
	d.enqueue(wf)
	d.metrics.WSMessages.WithLabelValues("outbound", "tts").Inc()
	return nil
}

// WriteTTSStop implements connection.Writer: a bare tts{state:"stop"}
// control message with no audio, used when a wake word is acknowledged
// without starting a chat turn.
func (d *deviceConn) WriteTTSStop(_ context.Context) error {
	d.enqueue(wireFrame{json: protocol.OutTTS{Type: protocol.TypeTTS, State: protocol.TTSStateStop, SessionID: d.sessionID}})
	d.metrics.WSMessages.WithLabelValues("outbound", "tts").Inc()
	return nil
}

// Send implements ttsengine.Sink.
func (d *deviceConn) Send(ctx context.Context, f ttsengine.Frame) error {
	return d.WriteTTSFrame(ctx, f)
}

// writeAdminAck replies to an admin server{action:...} message with the
// {type:"server", status:...} acknowledgement SPEC_FULL.md §6/E6 expects.
// Unlike WriteServerAction (a free-form turn/abort notice to the device),
// this always carries a status field.
func (d *deviceConn) writeAdminAck(status string) {
	d.enqueue(wireFrame{json: protocol.OutServer{Type: protocol.TypeServer, Status: status}})
	d.metrics.WSMessages.WithLabelValues("outbound", "server").Inc()
}

// WriteServerAction implements connection.Writer.
func (d *deviceConn) WriteServerAction(_ context.Context, action string) error {
	d.enqueue(wireFrame{json: protocol.OutServer{Type: protocol.TypeServer, Status: "ok", Message: action}})
	d.metrics.WSMessages.WithLabelValues("outbound", "server").Inc()
	return nil
}

// SendMCP implements mcpdevice.Sender.
func (d *deviceConn) SendMCP(_ context.Context, env mcpdevice.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	d.enqueue(wireFrame{json: protocol.MCPEnvelope{Type: protocol.TypeMCP, Payload: payload}})
	d.metrics.WSMessages.WithLabelValues("outbound", "mcp").Inc()
	return nil
}

// outIoTFrame is the {type:"iot", commands:[...]} shape SendIoTCommand
// writes; it has no inbound counterpart so it lives here rather than in
// internal/protocol, which only models the wire shapes both directions
// share.
type outIoTFrame struct {
	Type     protocol.MessageType   `json:"type"`
	Commands []mcpdevice.IoTCommand `json:"commands"`
}

// SendIoTCommand implements toolhandler.IoTSender.
func (d *deviceConn) SendIoTCommand(_ context.Context, cmd mcpdevice.IoTCommand) error {
	d.enqueue(wireFrame{json: outIoTFrame{Type: protocol.TypeIoT, Commands: []mcpdevice.IoTCommand{cmd}}})
	d.metrics.WSMessages.WithLabelValues("outbound", "iot").Inc()
	return nil
}
