// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldstream/iec104-gateway/asdu"
	"github.com/fieldstream/iec104-gateway/clog"
)

const timeoutResolution = 100 * time.Millisecond

type queueKind int

const (
	queueU queueKind = iota
	queueI
)

// queuedFrame is a single entry in send_list: a U-act or I-act frame
// awaiting its peer confirmation. Only the head of the queue is ever on
// the wire; a push behind a non-empty queue defers transmission until
// the head is popped.
type queuedFrame struct {
	kind     queueKind
	function uFrame      // valid when kind == queueU
	typeID   asdu.TypeID // valid when kind == queueI, used for head-of-line matching
	body     []byte      // valid when kind == queueI: the encoded ASDU

	transmitted bool
	sentAt      time.Time
}

type sendRequest struct {
	typeID asdu.TypeID
	body   []byte
}

// Session drives a single IEC-104 link to one device: dial, STARTDT
// handshake, I/S/U-frame bookkeeping, reconnection, and the periodic
// interrogation cycle. Exactly one goroutine (run) owns ssn, rsn, and
// send_list; every other goroutine communicates through channels.
type Session struct {
	deviceID string
	option   *Option
	sink     Sink

	conn net.Conn

	rcvRaw   chan []byte
	sendRaw  chan []byte
	sendASDU chan sendRequest
	parsed   chan asdu.Message
	iBodies  chan []byte // raw ASDU bodies awaiting handlerLoop decode

	ssn, rsn   uint16 // local send/receive sequence numbers
	ackSsn     uint16 // highest ssn the peer has confirmed
	ackRsn     uint16 // highest rsn we have acknowledged to the peer

	sendList []queuedFrame

	unAckRcvSince     time.Time // first unacked received I-frame, for T2
	idleSince         time.Time // last frame activity, for T3
	testFrActiveSince time.Time // TESTFR_ACT sent, awaiting TESTFR_CON

	linkState uint32 // atomic LinkState
	userCanceled uint32 // atomic bool, set by Close

	connectRetryCount uint32

	scheduler *scheduler

	clog.Clog

	mux sync.RWMutex

	onStarted        func(*Session)
	onStopped        func(*Session)
	onConnectionLost func(*Session)
}

// NewSession creates a session for deviceID using opt (ownership transferred)
// and publishing decoded events to sink. A nil sink discards every event.
func NewSession(deviceID string, opt *Option, sink Sink) *Session {
	if opt == nil {
		opt = NewOption()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Session{
		deviceID:  deviceID,
		option:    opt,
		sink:      sink,
		rcvRaw:    make(chan []byte, 16),
		sendRaw:   make(chan []byte, 16),
		sendASDU:  make(chan sendRequest, opt.config.SendQueueCap),
		parsed:    make(chan asdu.Message, 16),
		scheduler: newScheduler(opt.config.CollInterval),
		Clog:      clog.NewLogger(fmt.Sprintf("iec104[%s] ", deviceID)),
	}
}

// SetOnStartedHandler installs the callback fired once the link reaches Started.
func (sf *Session) SetOnStartedHandler(f func(*Session)) { sf.onStarted = f }

// SetOnStoppedHandler installs the callback fired when the link leaves Started.
func (sf *Session) SetOnStoppedHandler(f func(*Session)) { sf.onStopped = f }

// SetOnConnectionLostHandler installs the callback fired on an unplanned disconnect.
func (sf *Session) SetOnConnectionLostHandler(f func(*Session)) { sf.onConnectionLost = f }

// DeviceID returns the device this session serves.
func (sf *Session) DeviceID() string { return sf.deviceID }

// State returns the current link state.
func (sf *Session) State() LinkState {
	return LinkState(atomic.LoadUint32(&sf.linkState))
}

func (sf *Session) setState(s LinkState) {
	atomic.StoreUint32(&sf.linkState, uint32(s))
}

// Run drives the connect/handshake/serve/reconnect loop until ctx is
// cancelled or Close is called. It returns when the session will no
// longer attempt to reconnect.
func (sf *Session) Run(ctx context.Context) {
	for {
		if atomic.LoadUint32(&sf.userCanceled) == 1 {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := sf.connectAndServe(ctx); err != nil {
			sf.Warn("link cycle ended: %v", err)
		}

		if atomic.LoadUint32(&sf.userCanceled) == 1 {
			return
		}
		sf.connectRetryCount++
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

// Close marks the session as user-cancelled and tears down the socket, if any.
func (sf *Session) Close() error {
	atomic.StoreUint32(&sf.userCanceled, 1)
	sf.mux.RLock()
	conn := sf.conn
	sf.mux.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// connectAndServe performs one dial+handshake+serve attempt.
func (sf *Session) connectAndServe(ctx context.Context) error {
	sf.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, sf.option.config.ConnectTimeout0)
	conn, err := openConnection(dialCtx, sf.option.server, sf.option.TLSConfig, sf.option.config.ConnectTimeout0, sf.option.DialContext)
	cancel()
	if err != nil {
		sf.setState(Disconnected)
		return fmt.Errorf("dial: %w", err)
	}

	sf.mux.Lock()
	sf.conn = conn
	sf.ssn, sf.rsn, sf.ackSsn, sf.ackRsn = 0, 0, 0, 0
	sf.sendList = nil
	sf.iBodies = make(chan []byte, 16)
	sf.mux.Unlock()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sf.recvLoop(runCtx, conn) }()
	go func() { defer wg.Done(); sf.handlerLoop(runCtx) }()

	err = sf.run(runCtx, conn)

	runCancel()
	_ = conn.Close()
	wg.Wait()

	wasStarted := sf.State() == Started
	sf.setState(Disconnected)
	if wasStarted && sf.onConnectionLost != nil {
		sf.onConnectionLost(sf)
	}
	if sf.onStopped != nil {
		sf.onStopped(sf)
	}
	return err
}

// recvLoop reads complete APDUs off the wire and forwards the raw bytes.
func (sf *Session) recvLoop(ctx context.Context, conn net.Conn) {
	r := bufio.NewReaderSize(conn, apduSizeMax)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(sf.option.config.IdleTimeout3 * 3)); err != nil {
			return
		}
		startByte, err := r.ReadByte()
		if err != nil {
			return
		}
		if startByte != startFrame {
			continue // resync on corruption
		}
		length, err := r.ReadByte()
		if err != nil {
			return
		}
		apdu := make([]byte, 2+int(length))
		apdu[0], apdu[1] = startByte, length
		if _, err := readFull(r, apdu[2:]); err != nil {
			return
		}
		select {
		case sf.rcvRaw <- apdu:
		case <-ctx.Done():
			return
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// handlerLoop unmarshals ASDU payloads off the hot receive path and hands
// the decoded Message back to the owning goroutine via sf.parsed.
func (sf *Session) handlerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-sf.parsedBodyCh():
			a := asdu.NewEmptyASDU(&sf.option.params)
			if err := a.UnmarshalBinary(body); err != nil {
				sf.Warn("malformed ASDU: %v", err)
				continue
			}
			msg, err := asdu.ParseASDU(a)
			if err != nil {
				sf.Warn("unparseable ASDU %s: %v", a.Identifier.Type, err)
				continue
			}
			select {
			case sf.parsed <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// run is the single-owner state machine: STARTDT handshake, I/S/U
// processing, timers, and the periodic interrogation cycle.
func (sf *Session) run(ctx context.Context, conn net.Conn) error {
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-sf.sendRaw:
				if _, err := conn.Write(frame); err != nil {
					select {
					case writeErr <- err:
					default:
					}
					return
				}
			}
		}
	}()

	sf.submitU(uStartDtActive)
	sf.idleSince = time.Now()

	ticker := time.NewTicker(timeoutResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-writeErr:
			return err

		case req := <-sf.sendASDU:
			if sf.State() != Started {
				continue
			}
			if err := sf.submitI(req.typeID, req.body); err != nil {
				sf.Warn("enqueue %s: %v", req.typeID, err)
			}

		case raw := <-sf.rcvRaw:
			sf.idleSince = time.Now()
			if err := sf.onRawFrame(ctx, raw); err != nil {
				return err
			}

		case msg := <-sf.parsed:
			sf.tryPopSendList(msg)
			sf.dispatchMessage(ctx, msg)

		case <-ticker.C:
			if err := sf.onTick(ctx); err != nil {
				return err
			}
		}
	}
}

func (sf *Session) parsedBodyCh() chan []byte {
	sf.mux.RLock()
	ch := sf.iBodies
	sf.mux.RUnlock()
	return ch
}

func (sf *Session) onRawFrame(ctx context.Context, raw []byte) error {
	if err := sf.sink.PublishFrame(ctx, sf.deviceID, raw); err != nil {
		sf.Warn("archive raw frame: %v", err)
	}

	header, body := parseFrame(raw)
	switch h := header.(type) {
	case iAPCI:
		if !sf.validateRcvSeq(h.ssn) {
			return fmt.Errorf("sequence violation: got ssn=%d, expected rsn=%d", h.ssn, sf.rsn)
		}
		if sf.State() == Started || sf.State() == Connecting {
			if !sf.updateAckSsn(h.rsn) {
				return fmt.Errorf("ack violation: peer acked rsn=%d beyond our ssn=%d (last acked %d)", h.rsn, sf.ssn, sf.ackSsn)
			}
		}
		sf.rsn = (h.ssn + 1) & 0x7fff
		if sf.unAckRcvSince.IsZero() {
			sf.unAckRcvSince = time.Now()
		}
		if seqNoCount(sf.ackRsn, sf.rsn) >= sf.option.config.RecvUnAckLimitW {
			sf.sendSFrame()
		}
		select {
		case sf.iBodies <- body:
		default:
			sf.Warn("decode backlog full, dropping I-frame")
		}

	case sAPCI:
		if !sf.updateAckSsn(h.rsn) {
			return fmt.Errorf("ack violation: peer acked rsn=%d beyond our ssn=%d (last acked %d)", h.rsn, sf.ssn, sf.ackSsn)
		}

	case uAPCI:
		sf.onUFrame(h.function)
	}
	return nil
}

func (sf *Session) validateRcvSeq(ssn uint16) bool {
	return ssn == sf.rsn
}

// updateAckSsn advances the peer's confirmed send sequence number. It
// reports false when the peer acknowledges a sequence number we never sent,
// a fatal link violation the caller must tear the session down for.
func (sf *Session) updateAckSsn(rsn uint16) bool {
	if seqNoCount(sf.ackSsn, sf.ssn) < seqNoCount(rsn, sf.ssn) {
		return false
	}
	sf.ackSsn = rsn
	if len(sf.sendList) > 0 && sf.sendList[0].kind == queueI {
		sf.popSendListHead()
	}
	return true
}

func (sf *Session) onUFrame(fn uFrame) {
	switch fn {
	case uStartDtActive:
		sf.sendRaw <- newUFrame(uStartDtConfirm)
	case uStartDtConfirm:
		if len(sf.sendList) > 0 && sf.sendList[0].kind == queueU && sf.sendList[0].function == uStartDtActive {
			sf.popSendListHead()
		}
		sf.setState(Started)
		if sf.onStarted != nil {
			sf.onStarted(sf)
		}
	case uStopDtActive:
		sf.sendRaw <- newUFrame(uStopDtConfirm)
		sf.setState(Stopping)
	case uStopDtConfirm:
		if len(sf.sendList) > 0 && sf.sendList[0].kind == queueU && sf.sendList[0].function == uStopDtActive {
			sf.popSendListHead()
		}
	case uTestFrActive:
		sf.sendRaw <- newUFrame(uTestFrConfirm)
	case uTestFrConfirm:
		if len(sf.sendList) > 0 && sf.sendList[0].kind == queueU && sf.sendList[0].function == uTestFrActive {
			sf.popSendListHead()
		}
		sf.testFrActiveSince = time.Time{}
	}
}

// tryPopSendList pops the head of send_list when msg is the confirmation
// the head is waiting for: an activation-confirmation or request response
// carrying the same type identifier.
func (sf *Session) tryPopSendList(msg asdu.Message) {
	if len(sf.sendList) == 0 {
		return
	}
	head := sf.sendList[0]
	if head.kind != queueI {
		return
	}
	coa := msg.Header().Identifier.Coa
	if msg.TypeID() == head.typeID && (coa.Cause == asdu.ActivationCon || coa.Cause == asdu.Request) {
		sf.popSendListHead()
	}
}

func (sf *Session) onTick(ctx context.Context) error {
	now := time.Now()

	if len(sf.sendList) > 0 && sf.sendList[0].transmitted {
		if now.Sub(sf.sendList[0].sentAt) > sf.option.config.SendUnAckTimeout1 {
			return fmt.Errorf("t1 timeout awaiting confirmation of %s", sf.headDescription())
		}
	}

	if !sf.unAckRcvSince.IsZero() && now.Sub(sf.unAckRcvSince) > sf.option.config.RecvUnAckTimeout2 {
		sf.sendSFrame()
	}

	if sf.State() == Started && !sf.testFrActiveSince.IsZero() && now.Sub(sf.testFrActiveSince) > sf.option.config.SendUnAckTimeout1 {
		return fmt.Errorf("t1 timeout awaiting TESTFR_CON")
	}
	if sf.State() == Started && sf.testFrActiveSince.IsZero() && now.Sub(sf.idleSince) > sf.option.config.IdleTimeout3 {
		sf.testFrActiveSince = now
		sf.submitU(uTestFrActive)
	}

	sf.attemptTransmitHead()

	if sf.State() == Started && sf.scheduler.due(now) {
		sf.scheduler.begin(now)
		sf.runCallAllCycle()
	}

	return nil
}

func (sf *Session) headDescription() string {
	h := sf.sendList[0]
	if h.kind == queueU {
		return h.function.String()
	}
	return h.typeID.String()
}

// sendSFrame acknowledges everything received so far without an I-frame.
func (sf *Session) sendSFrame() {
	sf.sendRaw <- newSFrame(sf.rsn)
	sf.ackRsn = sf.rsn
	sf.unAckRcvSince = time.Time{}
}

func (sf *Session) submitU(function uFrame) {
	empty := len(sf.sendList) == 0
	sf.sendList = append(sf.sendList, queuedFrame{kind: queueU, function: function})
	if empty {
		sf.attemptTransmitHead()
	}
}

func (sf *Session) submitI(typeID asdu.TypeID, body []byte) error {
	if len(sf.sendList) >= sf.option.config.SendQueueCap {
		return ErrQueueFull
	}
	empty := len(sf.sendList) == 0
	sf.sendList = append(sf.sendList, queuedFrame{kind: queueI, typeID: typeID, body: body})
	if empty {
		sf.attemptTransmitHead()
	}
	return nil
}

func (sf *Session) popSendListHead() {
	if len(sf.sendList) == 0 {
		return
	}
	sf.sendList = sf.sendList[1:]
	sf.attemptTransmitHead()
}

// attemptTransmitHead sends the queue's head frame if it has not yet been
// put on the wire. For I-frames it additionally enforces k <= K.
func (sf *Session) attemptTransmitHead() {
	if len(sf.sendList) == 0 {
		return
	}
	head := &sf.sendList[0]
	if head.transmitted {
		return
	}

	switch head.kind {
	case queueU:
		sf.sendRaw <- newUFrame(head.function)
		if head.function == uStartDtActive || head.function == uTestFrActive || head.function == uStopDtActive {
			head.transmitted = true
			head.sentAt = time.Now()
		}

	case queueI:
		k := seqNoCount(sf.ackSsn, sf.ssn)
		if k >= sf.option.config.SendUnAckLimitK {
			sf.Warn("k limit reached (%d/%d)", k, sf.option.config.SendUnAckLimitK)
			if sf.option.config.PauseOnKLimit {
				return
			}
		}
		frame, err := newIFrame(sf.ssn, sf.rsn, head.body)
		if err != nil {
			sf.Error("build I-frame for %s: %v", head.typeID, err)
			sf.popSendListHead()
			return
		}
		sf.sendRaw <- frame
		sf.ssn = (sf.ssn + 1) & 0x7fff
		sf.ackRsn = sf.rsn
		sf.unAckRcvSince = time.Time{}
		head.transmitted = true
		head.sentAt = time.Now()
	}
}

func (sf *Session) runCallAllCycle() {
	coa := asdu.CauseOfTransmission{Cause: asdu.Activation}
	ca := sf.option.commonAddr
	if err := asdu.ClockSynchronizationCmd(sf, coa, ca, time.Now()); err != nil {
		sf.Warn("clock sync: %v", err)
	}
	if err := asdu.InterrogationCmd(sf, coa, ca, asdu.QOIStation); err != nil {
		sf.Warn("interrogation: %v", err)
	}
	if err := asdu.CounterInterrogationCmd(sf, coa, ca, asdu.QualifierCountCall{Request: asdu.QCCTotal, Freeze: asdu.QCCFrzRead}); err != nil {
		sf.Warn("counter interrogation: %v", err)
	}
}

// echoExecute completes select-before-operate: re-send the same command
// with SE cleared so the RTU performs the operation it was armed for.
func (sf *Session) echoExecute(typeID asdu.TypeID, ioa asdu.InfoObjAddr, value interface{}) error {
	coa := asdu.CauseOfTransmission{Cause: asdu.Activation}
	ca := sf.option.commonAddr
	switch typeID {
	case asdu.C_SC_NA_1, asdu.C_SC_TA_1:
		v, _ := value.(bool)
		return asdu.SingleCmd(sf, typeID, coa, ca, asdu.SingleCommandInfo{
			Ioa: ioa, Value: v, Qoc: asdu.QualifierOfCommand{InSelect: false},
		})
	case asdu.C_DC_NA_1, asdu.C_DC_TA_1:
		v, _ := value.(asdu.DoubleCommand)
		return asdu.DoubleCmd(sf, typeID, coa, ca, asdu.DoubleCommandInfo{
			Ioa: ioa, Value: v, Qoc: asdu.QualifierOfCommand{InSelect: false},
		})
	case asdu.C_SE_NA_1, asdu.C_SE_TA_1:
		v, _ := value.(asdu.Normalize)
		return asdu.SetpointCmdNormal(sf, typeID, coa, ca, asdu.SetpointCommandNormalInfo{
			Ioa: ioa, Value: v, Qos: asdu.QualifierOfSetpointCmd{InSelect: false},
		})
	case asdu.C_SE_NB_1, asdu.C_SE_TB_1:
		v, _ := value.(int16)
		return asdu.SetpointCmdScaled(sf, typeID, coa, ca, asdu.SetpointCommandScaledInfo{
			Ioa: ioa, Value: v, Qos: asdu.QualifierOfSetpointCmd{InSelect: false},
		})
	case asdu.C_SE_NC_1, asdu.C_SE_TC_1:
		v, _ := value.(float32)
		return asdu.SetpointCmdFloat(sf, typeID, coa, ca, asdu.SetpointCommandFloatInfo{
			Ioa: ioa, Value: v, Qos: asdu.QualifierOfSetpointCmd{InSelect: false},
		})
	case asdu.C_RC_NA_1, asdu.C_RC_TA_1:
		v, _ := value.(asdu.StepCommand)
		return asdu.StepCmd(sf, typeID, coa, ca, asdu.StepCommandInfo{
			Ioa: ioa, Value: v, Qoc: asdu.QualifierOfCommand{InSelect: false},
		})
	default:
		return fmt.Errorf("session: no echo-execute rule for %s", typeID)
	}
}

// --- asdu.Connect implementation ---

// Params implements asdu.Connect.
func (sf *Session) Params() *asdu.Params { return &sf.option.params }

// Send implements asdu.Connect. It hands the encoded ASDU to the owning
// goroutine, which enforces k/W and send_list ordering.
func (sf *Session) Send(a *asdu.ASDU) error {
	if sf.State() != Started {
		return ErrNotStarted
	}
	body, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	select {
	case sf.sendASDU <- sendRequest{typeID: a.Identifier.Type, body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

// UnderlyingConn implements asdu.Connect.
func (sf *Session) UnderlyingConn() net.Conn {
	sf.mux.RLock()
	defer sf.mux.RUnlock()
	return sf.conn
}
