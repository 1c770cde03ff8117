package peer

import (
	"math/rand"
	"time"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/wire"
)

// onTransportData is the transport's receive callback: bytes are appended to
// the receive buffer and every complete frame currently buffered is decoded
// and dispatched in order.
func (c *Connection) onTransportData(data []byte) {
	c.lastRecv.Store(c.clock.Now().UnixNano())

	c.mu.Lock()
	err := c.recvBuf.append(data, c.cfg.RecvFloodSize)
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		return
	}

	for i := 0; i < c.cfg.MaxMessagesPerRead; i++ {
		msg, consumed, decodeErr := c.tryDecodeOne()
		if decodeErr != nil {
			c.fail(decodeErr)
			return
		}
		if consumed == 0 {
			return // not enough buffered data yet
		}

		c.mu.Lock()
		c.recvBuf.consume(consumed)
		c.mu.Unlock()

		if msg == nil {
			// Recognized frame, unrecognized command.
			if c.noteUnknownCommand() {
				c.fail(errors.New(errors.ERR_PROTOCOL_UNKNOWN_COMMAND_FLOOD, "too many unknown commands in one window"))
				return
			}
			continue
		}

		if err := c.handleMessage(msg); err != nil {
			c.fail(err)
			return
		}
	}
}

// tryDecodeOne attempts to decode exactly one frame from the buffered,
// unconsumed bytes without mutating the buffer's read offset. It returns
// (nil, 0, nil) when not enough data has arrived yet, (nil, n, nil) for a
// well-formed frame whose command this codec doesn't recognize (n bytes
// should still be consumed), and a non-nil error for any frame that fails
// validation against a complete buffered payload.
func (c *Connection) tryDecodeOne() (wire.Message, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := c.recvBuf.peek(0, wire.MessageHeaderSize)
	if header == nil {
		return nil, 0, nil
	}

	hdr, err := wire.ParseFrameHeader(header, c.cfg.Net)
	if err != nil {
		return nil, 0, err
	}

	total := wire.MessageHeaderSize + int(hdr.Length)
	payload := c.recvBuf.peek(wire.MessageHeaderSize, int(hdr.Length))
	if payload == nil && hdr.Length > 0 {
		return nil, 0, nil // header arrived, payload still incoming
	}

	if !wire.VerifyChecksum(payload, hdr.Checksum) {
		return nil, 0, errors.New(errors.ERR_CODEC_BAD_CHECKSUM, "checksum mismatch for command %q", hdr.Command)
	}

	msg := wire.MakeEmptyMessage(hdr.Command)
	if msg == nil {
		return nil, total, nil
	}
	if err := wire.DecodeMessagePayload(msg, payload); err != nil {
		return nil, 0, err
	}
	return msg, total, nil
}

// noteUnknownCommand records one unknown-command occurrence in the current
// window and reports whether the disconnect threshold has now been crossed.
func (c *Connection) noteUnknownCommand() bool {
	c.unknownMu.Lock()
	defer c.unknownMu.Unlock()

	now := c.clock.Now()
	if now.After(c.unknownWindowEnd) {
		c.unknownWindowEnd = now.Add(c.cfg.UnknownCmdWindow)
		c.unknownCount = 0
	}
	c.unknownCount++

	if c.unknownCount <= c.cfg.UnknownCmdWarnLimit {
		c.log.Warnf("peer: unrecognized command received (%d in window)", c.unknownCount)
	}
	return c.unknownCount > c.cfg.UnknownCmdDisconnectLimit
}

func (c *Connection) handleMessage(msg wire.Message) error {
	c.mu.Lock()
	haveVersion := c.versionSeen
	c.mu.Unlock()

	switch m := msg.(type) {
	case *wire.MsgVersion:
		return c.handleVersion(m)
	case *wire.MsgVerAck:
		return c.handleVerAck()
	}

	if !haveVersion {
		return errors.New(errors.ERR_PROTOCOL_PRE_VERACK, "message %q received before VERSION", msg.Command())
	}

	switch m := msg.(type) {
	case *wire.MsgPing:
		return c.Send(&wire.MsgPong{Nonce: m.Nonce})
	case *wire.MsgPong:
		c.handlePong(m)
		return nil
	default:
		if c.onMessage != nil {
			c.onMessage(c, msg)
		}
		return nil
	}
}

func (c *Connection) handleVersion(v *wire.MsgVersion) error {
	c.mu.Lock()
	if c.versionSeen {
		c.mu.Unlock()
		return nil // duplicates are silently ignored
	}
	c.versionSeen = true
	c.mu.Unlock()

	if v.ProtocolVersion < c.cfg.MinSupportedVersion {
		return errors.New(errors.ERR_PROTOCOL_LOW_VERSION, "peer version %d below minimum %d", v.ProtocolVersion, c.cfg.MinSupportedVersion)
	}
	if v.Nonce == c.cfg.LocalNonce {
		return errors.New(errors.ERR_PROTOCOL_SELF_CONNECT, "peer nonce matches our own")
	}
	if c.cfg.IsNonceKnown != nil && c.cfg.IsNonceKnown(v.Nonce) {
		return errors.New(errors.ERR_PROTOCOL_SELF_CONNECT, "peer nonce %d already connected", v.Nonce)
	}

	c.mu.Lock()
	c.remote = &VersionInfo{
		ProtocolVersion: v.ProtocolVersion,
		Services:        v.Services,
		UserAgent:       v.UserAgent,
		StartHeight:     v.StartHeight,
		Nonce:           v.Nonce,
		Timestamp:       v.Timestamp,
	}
	inboundStillConnected := !c.outbound && c.State() == StateConnected
	c.mu.Unlock()

	if c.outbound && c.cfg.TimeFilter != nil {
		offset := v.Timestamp - c.clock.Now().Unix()
		c.cfg.TimeFilter.Add(c.transport.RemoteAddr(), offset)
	}

	if inboundStillConnected {
		c.setState(StateVersionSent)
		if err := c.sendVersion(); err != nil {
			return err
		}
	}

	return c.Send(&wire.MsgVerAck{})
}

func (c *Connection) handleVerAck() error {
	c.mu.Lock()
	if c.verAckSeen {
		c.mu.Unlock()
		return nil // duplicates are silently ignored
	}
	c.verAckSeen = true
	c.mu.Unlock()

	c.cancelHandshakeTimer()
	c.setState(StateReady)

	if c.isFeeler {
		// A feeler's only purpose is to confirm liveness: report the
		// completed handshake, then drop the connection.
		if c.onReady != nil {
			c.onReady(c)
		}
		c.fail(nil)
		return nil
	}

	c.armPingTimer()
	c.armWatchdog()

	if c.onReady != nil {
		c.onReady(c)
	}
	return nil
}

func (c *Connection) armPingTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingTimer = c.clock.AfterFunc(c.cfg.PingInterval, c.pingTick)
}

func (c *Connection) pingTick() {
	if c.State() != StateReady {
		return
	}

	if outstanding := c.pingSentAt.Load(); outstanding != 0 {
		elapsed := time.Duration(c.clock.Now().UnixNano() - outstanding)
		if elapsed > c.cfg.PingTimeout {
			c.fail(errors.New(errors.ERR_PROTOCOL_TIMEOUT, "ping timed out after %s", elapsed))
			return
		}
		// A ping is still unanswered; keep waiting on it rather than
		// resetting pingSentAt, otherwise elapsed time since the original
		// ping would never accumulate past one PingInterval.
		c.mu.Lock()
		if c.pingTimer != nil {
			c.pingTimer.Reset(c.cfg.PingInterval)
		}
		c.mu.Unlock()
		return
	}

	nonce := rand.Uint64()
	c.pingNonce.Store(nonce)
	c.pingSentAt.Store(c.clock.Now().UnixNano())
	_ = c.Send(&wire.MsgPing{Nonce: nonce})

	c.mu.Lock()
	if c.pingTimer != nil {
		c.pingTimer.Reset(c.cfg.PingInterval)
	}
	c.mu.Unlock()
}

func (c *Connection) handlePong(p *wire.MsgPong) {
	if p.Nonce != c.pingNonce.Load() {
		return // stale or mismatched pong, ignore
	}
	sentAt := c.pingSentAt.Load()
	if sentAt == 0 {
		return
	}
	rtt := c.clock.Now().UnixNano() - sentAt
	c.lastPingTime.Store(rtt)
	c.pingSentAt.Store(0)
}

func (c *Connection) armWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchdogTimer = c.clock.AfterFunc(c.cfg.InactivityCheckInterval, c.watchdogTick)
}

func (c *Connection) watchdogTick() {
	if c.State() != StateReady {
		return
	}

	now := c.clock.Now().UnixNano()
	sinceSend := time.Duration(now - c.lastSend.Load())
	sinceRecv := time.Duration(now - c.lastRecv.Load())

	if sinceSend > c.cfg.InactivityTimeout && sinceRecv > c.cfg.InactivityTimeout {
		reason := "first-silent"
		switch {
		case c.lastSend.Load() == 0 && c.lastRecv.Load() == 0:
			reason = "first-silent"
		case sinceSend > c.cfg.InactivityTimeout:
			reason = "send-silent"
		case sinceRecv > c.cfg.InactivityTimeout:
			reason = "receive-silent"
		}
		c.fail(errors.New(errors.ERR_PROTOCOL_TIMEOUT, "inactivity watchdog: %s", reason))
		return
	}

	c.mu.Lock()
	if c.watchdogTimer != nil {
		c.watchdogTimer.Reset(c.cfg.InactivityCheckInterval)
	}
	c.mu.Unlock()
}
