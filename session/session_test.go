package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fieldstream/iec104-gateway/asdu"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte{byte(asdu.M_SP_NA_1), 0x01, byte(asdu.Spontaneous), 0x01, 0x01, 0x01}
	raw, err := newIFrame(5, 9, body)
	if err != nil {
		t.Fatalf("newIFrame: %v", err)
	}
	header, rest := parseFrame(raw)
	i, ok := header.(iAPCI)
	if !ok {
		t.Fatalf("expected iAPCI, got %T", header)
	}
	if i.ssn != 5 || i.rsn != 9 {
		t.Fatalf("ssn/rsn mismatch: %+v", i)
	}
	if string(rest) != string(body) {
		t.Fatalf("body mismatch: %v vs %v", rest, body)
	}
}

func TestUAndSFrameRoundTrip(t *testing.T) {
	header, _ := parseFrame(newUFrame(uStartDtActive))
	u, ok := header.(uAPCI)
	if !ok || u.function != uStartDtActive {
		t.Fatalf("expected uStartDtActive, got %+v", header)
	}

	header, _ = parseFrame(newSFrame(42))
	s, ok := header.(sAPCI)
	if !ok || s.rsn != 42 {
		t.Fatalf("expected sAPCI{42}, got %+v", header)
	}
}

func TestSeqNoCountWrapsModulo32768(t *testing.T) {
	if got := seqNoCount(32767, 1); got != 2 {
		t.Fatalf("seqNoCount(32767,1) = %d, want 2", got)
	}
	if got := seqNoCount(10, 10); got != 0 {
		t.Fatalf("seqNoCount(10,10) = %d, want 0", got)
	}
}

func TestConfigValidFillsDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Valid(); err != nil {
		t.Fatalf("Valid: %v", err)
	}
	if cfg.SendUnAckLimitK != 12 || cfg.RecvUnAckLimitW != 8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SendQueueCap != SendQueueCapDefault || cfg.CollInterval != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidRejectsOutOfRange(t *testing.T) {
	cfg := Config{SendUnAckLimitK: 40000}
	if err := cfg.Valid(); err == nil {
		t.Fatal("expected range error")
	}
}

func TestClassifyCause(t *testing.T) {
	cases := []struct {
		cause asdu.Cause
		kind  EventKind
		ok    bool
	}{
		{asdu.Request, EventCall, true},
		{asdu.ActivationCon, EventCtrl, true},
		{asdu.Spontaneous, EventData, true},
		{asdu.Background, EventData, false},
	}
	for _, c := range cases {
		kind, ok := classifyCause(c.cause)
		if kind != c.kind || ok != c.ok {
			t.Fatalf("classifyCause(%v) = (%v,%v), want (%v,%v)", c.cause, kind, ok, c.kind, c.ok)
		}
	}
}

type capturingSink struct {
	mu     sync.Mutex
	evs    []Event
	frames [][]byte
}

func (s *capturingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *capturingSink) PublishFrame(_ context.Context, _ string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), raw...))
	return nil
}

func newTestSession(sink Sink) *Session {
	opt := NewOption()
	opt.SetParams(asdu.ParamsNarrow)
	sf := NewSession("dev-1", opt, sink)
	return sf
}

func TestDispatchMessagePublishesValidPoint(t *testing.T) {
	sink := &capturingSink{}
	sf := newTestSession(sink)

	msg := &asdu.SinglePointMsg{
		H: asdu.Header{
			Params: &sf.option.params,
			Identifier: asdu.Identifier{
				Type: asdu.M_SP_NA_1,
				Coa:  asdu.CauseOfTransmission{Cause: asdu.Spontaneous},
			},
		},
		Items: []asdu.SinglePointInfo{
			{Ioa: 100, Value: true, Qds: 0},
		},
	}

	sf.dispatchMessage(context.Background(), msg)

	if len(sink.evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.evs))
	}
	ev := sink.evs[0]
	if ev.IOA != 100 || ev.Kind != EventData || ev.Value != true {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDispatchMessageDropsInvalidQuality(t *testing.T) {
	sink := &capturingSink{}
	sf := newTestSession(sink)

	msg := &asdu.SinglePointMsg{
		H: asdu.Header{
			Params: &sf.option.params,
			Identifier: asdu.Identifier{
				Type: asdu.M_SP_NA_1,
				Coa:  asdu.CauseOfTransmission{Cause: asdu.Spontaneous},
			},
		},
		Items: []asdu.SinglePointInfo{
			{Ioa: 100, Value: true, Qds: asdu.QDSInvalid},
		},
	}

	sf.dispatchMessage(context.Background(), msg)

	if len(sink.evs) != 0 {
		t.Fatalf("expected invalid point to be dropped, got %d events", len(sink.evs))
	}
}

func TestSendListGatesBehindHead(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)

	bodyA := []byte{byte(asdu.C_IC_NA_1), 0x01, byte(asdu.Activation), 0x01, 0x00, byte(asdu.QOIStation)}
	bodyB := []byte{byte(asdu.C_CI_NA_1), 0x01, byte(asdu.Activation), 0x01, 0x00, 0x00}

	if err := sf.submitI(asdu.C_IC_NA_1, bodyA); err != nil {
		t.Fatalf("submitI A: %v", err)
	}
	if err := sf.submitI(asdu.C_CI_NA_1, bodyB); err != nil {
		t.Fatalf("submitI B: %v", err)
	}

	if len(sf.sendList) != 2 {
		t.Fatalf("expected 2 queued frames, got %d", len(sf.sendList))
	}
	if !sf.sendList[0].transmitted {
		t.Fatal("expected head to be transmitted immediately")
	}
	if sf.sendList[1].transmitted {
		t.Fatal("expected second entry to wait behind the head")
	}

	select {
	case <-sf.sendRaw:
	default:
		t.Fatal("expected head frame on the wire")
	}

	// Simulate the peer's activation confirmation popping the head.
	confirm := &asdu.InterrogationCmdMsg{
		H: asdu.Header{Identifier: asdu.Identifier{Type: asdu.C_IC_NA_1, Coa: asdu.CauseOfTransmission{Cause: asdu.ActivationCon}}},
	}
	sf.tryPopSendList(confirm)

	if len(sf.sendList) != 1 {
		t.Fatalf("expected 1 queued frame after pop, got %d", len(sf.sendList))
	}
	if !sf.sendList[0].transmitted {
		t.Fatal("expected second entry to be transmitted after head popped")
	}

	select {
	case <-sf.sendRaw:
	default:
		t.Fatal("expected second frame on the wire after pop")
	}
}

func TestSendListPausesAtKLimit(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.option.config.SendUnAckLimitK = 1
	sf.ssn = 1 // one I-frame already outstanding, ackSsn still 0

	body := []byte{byte(asdu.C_IC_NA_1), 0x01, byte(asdu.Activation), 0x01, 0x00, byte(asdu.QOIStation)}
	if err := sf.submitI(asdu.C_IC_NA_1, body); err != nil {
		t.Fatalf("submitI: %v", err)
	}

	if sf.sendList[0].transmitted {
		t.Fatal("expected transmission to pause at the k limit")
	}
	select {
	case <-sf.sendRaw:
		t.Fatal("expected no frame on the wire while paused at k limit")
	default:
	}
}

func TestEchoExecuteSingleCommandClearsSelect(t *testing.T) {
	sf := newTestSession(nil)
	sf.setState(Started)

	if err := sf.echoExecute(asdu.C_SC_NA_1, 7, true); err != nil {
		t.Fatalf("echoExecute: %v", err)
	}

	select {
	case req := <-sf.sendASDU:
		if req.typeID != asdu.C_SC_NA_1 {
			t.Fatalf("unexpected typeID %v", req.typeID)
		}
	default:
		t.Fatal("expected a queued send request")
	}
}

func TestEchoExecuteStepCommandClearsSelect(t *testing.T) {
	sf := newTestSession(nil)
	sf.setState(Started)

	if err := sf.echoExecute(asdu.C_RC_NA_1, 7, asdu.SCOStepUP); err != nil {
		t.Fatalf("echoExecute: %v", err)
	}

	select {
	case req := <-sf.sendASDU:
		if req.typeID != asdu.C_RC_NA_1 {
			t.Fatalf("unexpected typeID %v", req.typeID)
		}
	default:
		t.Fatal("expected a queued send request")
	}
}

func TestDispatchCommandConfirmSelectEchoesExecute(t *testing.T) {
	sf := newTestSession(nil)
	sf.setState(Started)

	sf.dispatchCommandConfirm(context.Background(),
		asdu.CauseOfTransmission{Cause: asdu.ActivationCon}, 7, true, true, asdu.C_SC_NA_1)

	select {
	case req := <-sf.sendASDU:
		if req.typeID != asdu.C_SC_NA_1 {
			t.Fatalf("unexpected typeID %v", req.typeID)
		}
	default:
		t.Fatal("expected select to echo an execute send request")
	}
}

func TestOnRawFrameArchivesEveryFrameRegardlessOfType(t *testing.T) {
	sink := &capturingSink{}
	sf := newTestSession(sink)
	sf.sendRaw = make(chan []byte, 8)
	sf.iBodies = make(chan []byte, 8)

	raw := newUFrame(uStartDtConfirm)
	if err := sf.onRawFrame(context.Background(), raw); err != nil {
		t.Fatalf("onRawFrame: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames) != 1 || string(sink.frames[0]) != string(raw) {
		t.Fatalf("expected raw frame archived, got %v", sink.frames)
	}
}

func TestOnRawFrameRejectsSequenceViolation(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.iBodies = make(chan []byte, 8)
	sf.rsn = 0

	body := []byte{byte(asdu.M_SP_NA_1), 0x01, byte(asdu.Spontaneous), 0x01, 0x01, 0x01}
	raw, err := newIFrame(5, 0, body) // ssn=5, but we expect rsn=0
	if err != nil {
		t.Fatalf("newIFrame: %v", err)
	}

	if err := sf.onRawFrame(context.Background(), raw); err == nil {
		t.Fatal("expected a sequence violation error")
	}
}

func TestOnRawFrameRejectsAckBeyondSentSsn(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.iBodies = make(chan []byte, 8)
	sf.setState(Started)
	sf.ssn = 0
	sf.ackSsn = 0

	// Peer acknowledges an I-frame we never sent (rsn=5 while ssn=0).
	raw := newSFrame(5)

	if err := sf.onRawFrame(context.Background(), raw); err == nil {
		t.Fatal("expected a fatal ack violation error")
	}
}

func TestOnRawFrameForcesSFrameAtWThreshold(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.iBodies = make(chan []byte, 8)
	sf.option.config.RecvUnAckLimitW = 2
	sf.rsn = 0

	body := []byte{byte(asdu.M_SP_NA_1), 0x01, byte(asdu.Spontaneous), 0x01, 0x01, 0x01}

	for i := uint16(0); i < 2; i++ {
		raw, err := newIFrame(i, 0, body)
		if err != nil {
			t.Fatalf("newIFrame: %v", err)
		}
		if err := sf.onRawFrame(context.Background(), raw); err != nil {
			t.Fatalf("onRawFrame: %v", err)
		}
	}

	select {
	case frame := <-sf.sendRaw:
		header, _ := parseFrame(frame)
		if _, ok := header.(sAPCI); !ok {
			t.Fatalf("expected S-frame forced by W threshold, got %T", header)
		}
	default:
		t.Fatal("expected an S-frame once the W threshold was reached")
	}
}

func TestOnUFrameStartDtConfirmIdempotentWhenAlreadyStarted(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.setState(Started)
	sf.sendList = nil // nothing queued, unlike a fresh handshake

	sf.onUFrame(uStartDtConfirm)

	if sf.State() != Started {
		t.Fatalf("expected state to remain Started, got %v", sf.State())
	}
	if len(sf.sendList) != 0 {
		t.Fatalf("expected send_list untouched, got %+v", sf.sendList)
	}
}

func TestRunSendsStartDtActiveOnColdStart(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)

	select {
	case raw := <-sf.sendRaw:
		t.Fatalf("unexpected frame queued before run: %v", raw)
	default:
	}

	sf.submitU(uStartDtActive)

	select {
	case raw := <-sf.sendRaw:
		header, _ := parseFrame(raw)
		u, ok := header.(uAPCI)
		if !ok || u.function != uStartDtActive {
			t.Fatalf("expected STARTDT_ACT on cold start, got %+v", header)
		}
	default:
		t.Fatal("expected STARTDT_ACT queued for transmission")
	}
}

func TestOnTickEmitsTestFrActiveAfterIdleTimeout(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.setState(Started)
	sf.option.config.IdleTimeout3 = time.Millisecond
	sf.idleSince = time.Now().Add(-time.Second)

	if err := sf.onTick(context.Background()); err != nil {
		t.Fatalf("onTick: %v", err)
	}

	if sf.testFrActiveSince.IsZero() {
		t.Fatal("expected testFrActiveSince to be set after idle timeout")
	}

	select {
	case raw := <-sf.sendRaw:
		header, _ := parseFrame(raw)
		u, ok := header.(uAPCI)
		if !ok || u.function != uTestFrActive {
			t.Fatalf("expected TESTFR_ACT on idle timeout, got %+v", header)
		}
	default:
		t.Fatal("expected TESTFR_ACT queued for transmission")
	}
}

func TestOnTickFailsSessionWhenTestFrActiveGoesUnconfirmed(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.setState(Started)
	sf.option.config.SendUnAckTimeout1 = time.Millisecond
	sf.testFrActiveSince = time.Now().Add(-time.Second)

	if err := sf.onTick(context.Background()); err == nil {
		t.Fatal("expected t1 timeout awaiting TESTFR_CON to fail the session")
	}
}

func TestOnTickFailsSessionOnUnconfirmedSendListHead(t *testing.T) {
	sf := newTestSession(nil)
	sf.sendRaw = make(chan []byte, 8)
	sf.setState(Started)
	sf.option.config.SendUnAckTimeout1 = time.Millisecond
	sf.sendList = []queuedFrame{{kind: queueI, typeID: asdu.M_SP_NA_1, transmitted: true, sentAt: time.Now().Add(-time.Second)}}

	err := sf.onTick(context.Background())
	if err == nil {
		t.Fatal("expected t1 timeout awaiting confirmation to fail the session")
	}
}

func TestRunIncrementsConnectRetryCountOnDialFailure(t *testing.T) {
	opt := NewOption()
	opt.SetParams(asdu.ParamsNarrow)
	if err := opt.SetEndpoint("127.0.0.1:0"); err != nil {
		t.Fatalf("SetEndpoint: %v", err)
	}
	dialErr := fmt.Errorf("refused")
	opt.SetDialContext(func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, dialErr
	})

	sf := NewSession("dev-1", opt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sf.Run(ctx)

	if sf.connectRetryCount == 0 {
		t.Fatal("expected connectRetryCount to increment after a dial failure")
	}
}
