package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"dnsproxy/internal/dns/common/clock"
	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/gateways/wire"
)

// MockForwarder implements Forwarder for testing
type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// recordingSender captures reply sends; sendErr makes every send fail.
type recordingSender struct {
	mu      sync.Mutex
	data    [][]byte
	addrs   []net.Addr
	sendErr error
}

func (s *recordingSender) SendTo(data []byte, addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	sent := make([]byte, len(data))
	copy(sent, data)
	s.data = append(s.data, sent)
	s.addrs = append(s.addrs, addr)
	return nil
}

func (s *recordingSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.data...)
}

// recordingObserver captures Notify invocations.
type recordingObserver struct {
	mu    sync.Mutex
	names []string
	addrs [][]string
}

func (o *recordingObserver) Notify(name string, addresses []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
	o.addrs = append(o.addrs, addresses)
}

func (o *recordingObserver) calls() ([]string, [][]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.names...), append([][]string(nil), o.addrs...)
}

// capturingLogger records log messages per level for assertions.
type capturingLogger struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func newCapturingLogger() *capturingLogger {
	return &capturingLogger{msgs: make(map[string][]string)}
}

func (l *capturingLogger) record(level string, msg string) {
	l.mu.Lock()
	l.msgs[level] = append(l.msgs[level], msg)
	l.mu.Unlock()
}

func (l *capturingLogger) Debug(_ map[string]any, msg string) { l.record("debug", msg) }
func (l *capturingLogger) Info(_ map[string]any, msg string)  { l.record("info", msg) }
func (l *capturingLogger) Warn(_ map[string]any, msg string)  { l.record("warn", msg) }
func (l *capturingLogger) Error(_ map[string]any, msg string) { l.record("error", msg) }
func (l *capturingLogger) Fatal(_ map[string]any, msg string) { l.record("fatal", msg) }

func (l *capturingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs[level] {
		if m == msg {
			return true
		}
	}
	return false
}

func packTestQuery(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{ID: id, RecursionDesired: true},
		Questions: []dnsmessage.Question{{
			Name:  dnsmessage.MustNewName(name),
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
		}},
	}
	data, err := msg.Pack()
	require.NoError(t, err)
	return data
}

func packTestReply(t *testing.T, id uint16, name string, addrs ...[4]byte) []byte {
	t.Helper()
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{ID: id, Response: true, RecursionAvailable: true},
		Questions: []dnsmessage.Question{{
			Name:  dnsmessage.MustNewName(name),
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
		}},
	}
	for _, a := range addrs {
		msg.Answers = append(msg.Answers, dnsmessage.Resource{
			Header: dnsmessage.ResourceHeader{
				Name:  dnsmessage.MustNewName(name),
				Type:  dnsmessage.TypeA,
				Class: dnsmessage.ClassINET,
				TTL:   300,
			},
			Body: &dnsmessage.AResource{A: a},
		})
	}
	data, err := msg.Pack()
	require.NoError(t, err)
	return data
}

func clientAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newTestHandler(t *testing.T, opts HandlerOptions) *Handler {
	t.Helper()
	if opts.Codec == nil {
		opts.Codec = wire.NewMessageCodec()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h, err := NewHandler(opts)
	require.NoError(t, err)
	return h
}

func TestNewHandler(t *testing.T) {
	codec := wire.NewMessageCodec()
	forwarder := &MockForwarder{}

	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr string
	}{
		{
			name: "valid options",
			opts: HandlerOptions{Codec: codec, Upstream: forwarder},
		},
		{
			name:    "codec required",
			opts:    HandlerOptions{Upstream: forwarder},
			wantErr: "DNS codec is required",
		},
		{
			name:    "upstream required",
			opts:    HandlerOptions{Codec: codec},
			wantErr: "upstream forwarder is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(tt.opts)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultObserverTimeout, h.observerTimeout)
			assert.NotNil(t, h.clock)
		})
	}
}

func TestHandler_MalformedQuery(t *testing.T) {
	forwarder := &MockForwarder{}
	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{Upstream: forwarder, Logger: logger})
	sender := &recordingSender{}

	h.HandleDatagram(context.Background(), []byte{0x01, 0x02}, clientAddr(40000), sender)

	// The forwarder is never invoked and nothing is sent back.
	forwarder.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything)
	assert.Empty(t, sender.sent())
	assert.True(t, logger.has("warn", "Failed to decode DNS query"))
}

func TestHandler_Passthrough(t *testing.T) {
	query := packTestQuery(t, 0x1234, "example.com.")
	reply := packTestReply(t, 0x1234, "example.com.",
		[4]byte{93, 184, 216, 34}, [4]byte{93, 184, 216, 35})

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(reply, nil).Once()

	observer := &recordingObserver{}
	h := newTestHandler(t, HandlerOptions{
		Upstream:  forwarder,
		Observers: []ReplyObserver{observer},
		Clock:     clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	sender := &recordingSender{}
	addr := clientAddr(40001)

	h.HandleDatagram(context.Background(), query, addr, sender)

	// Verbatim reply bytes to the originating address.
	require.Len(t, sender.sent(), 1)
	assert.Equal(t, reply, sender.sent()[0])
	assert.Equal(t, addr, sender.addrs[0])

	// Observer invoked exactly once, name and addresses in answer order.
	names, addrLists := observer.calls()
	require.Len(t, names, 1)
	assert.Equal(t, "example.com.", names[0])
	assert.Equal(t, []string{"93.184.216.34", "93.184.216.35"}, addrLists[0])

	forwarder.AssertExpectations(t)
}

func TestHandler_NoARecords_ObserverNotInvoked(t *testing.T) {
	query := packTestQuery(t, 7, "example.com.")
	reply := packTestReply(t, 7, "example.com.") // zero answers

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(reply, nil).Once()

	observer := &recordingObserver{}
	h := newTestHandler(t, HandlerOptions{Upstream: forwarder, Observers: []ReplyObserver{observer}})
	sender := &recordingSender{}

	h.HandleDatagram(context.Background(), query, clientAddr(40002), sender)

	require.Len(t, sender.sent(), 1)
	names, _ := observer.calls()
	assert.Empty(t, names)
}

func TestHandler_UpstreamTimeout(t *testing.T) {
	query := packTestQuery(t, 8, "slow.example.com.")

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).
		Return(nil, fmt.Errorf("%w after 5s", ErrUpstreamTimeout)).Once()

	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{Upstream: forwarder, Logger: logger})
	sender := &recordingSender{}

	h.HandleDatagram(context.Background(), query, clientAddr(40003), sender)

	// The client receives nothing, and the log distinguishes a timeout.
	assert.Empty(t, sender.sent())
	assert.True(t, logger.has("error", "No upstream reply before timeout"))
	assert.False(t, logger.has("error", "Upstream forwarding failed"))
}

func TestHandler_UpstreamTransportError(t *testing.T) {
	query := packTestQuery(t, 9, "unreachable.example.com.")

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).
		Return(nil, fmt.Errorf("failed to connect to upstream: network unreachable")).Once()

	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{Upstream: forwarder, Logger: logger})
	sender := &recordingSender{}

	h.HandleDatagram(context.Background(), query, clientAddr(40004), sender)

	assert.Empty(t, sender.sent())
	assert.True(t, logger.has("error", "Upstream forwarding failed"))
	assert.False(t, logger.has("error", "No upstream reply before timeout"))
}

func TestHandler_UndecodableReply_StillDelivered(t *testing.T) {
	query := packTestQuery(t, 10, "example.com.")
	garbage := []byte{0xDE, 0xAD} // upstream returned bytes the codec rejects

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(garbage, nil).Once()

	observer := &recordingObserver{}
	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{
		Upstream:  forwarder,
		Observers: []ReplyObserver{observer},
		Logger:    logger,
	})
	sender := &recordingSender{}

	h.HandleDatagram(context.Background(), query, clientAddr(40005), sender)

	// Delivery is verbatim and unconditional; decode failure is non-fatal.
	require.Len(t, sender.sent(), 1)
	assert.Equal(t, garbage, sender.sent()[0])
	names, _ := observer.calls()
	assert.Empty(t, names)
	assert.True(t, logger.has("warn", "Reply delivered but could not be decoded"))
}

func TestHandler_SendFailure(t *testing.T) {
	query := packTestQuery(t, 11, "example.com.")
	reply := packTestReply(t, 11, "example.com.", [4]byte{10, 0, 0, 1})

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(reply, nil).Once()

	observer := &recordingObserver{}
	h := newTestHandler(t, HandlerOptions{Upstream: forwarder, Observers: []ReplyObserver{observer}})
	sender := &recordingSender{sendErr: fmt.Errorf("socket closed")}

	h.HandleDatagram(context.Background(), query, clientAddr(40006), sender)

	// No delivery means no observer notification.
	names, _ := observer.calls()
	assert.Empty(t, names)
}

func TestHandler_SlowObserver_DoesNotBlockCompletion(t *testing.T) {
	query := packTestQuery(t, 12, "example.com.")
	reply := packTestReply(t, 12, "example.com.", [4]byte{10, 0, 0, 2})

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(reply, nil).Once()

	release := make(chan struct{})
	slow := ObserverFunc(func(string, []string) {
		<-release
	})

	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{
		Upstream:        forwarder,
		Observers:       []ReplyObserver{slow},
		Logger:          logger,
		ObserverTimeout: 50 * time.Millisecond,
	})
	sender := &recordingSender{}

	start := time.Now()
	h.HandleDatagram(context.Background(), query, clientAddr(40007), sender)
	elapsed := time.Since(start)
	close(release)

	// Reply was delivered and the handler finished despite the hung observer.
	require.Len(t, sender.sent(), 1)
	assert.Less(t, elapsed, time.Second)
	assert.True(t, logger.has("warn", "Reply observer abandoned after timeout"))
}

func TestHandler_PanickingObserver_IsIsolated(t *testing.T) {
	query := packTestQuery(t, 13, "example.com.")
	reply := packTestReply(t, 13, "example.com.", [4]byte{10, 0, 0, 3})

	forwarder := &MockForwarder{}
	forwarder.On("Forward", mock.Anything, query).Return(reply, nil).Once()

	panicking := ObserverFunc(func(string, []string) {
		panic("observer exploded")
	})
	second := &recordingObserver{}

	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{
		Upstream:  forwarder,
		Observers: []ReplyObserver{panicking, second},
		Logger:    logger,
	})
	sender := &recordingSender{}

	assert.NotPanics(t, func() {
		h.HandleDatagram(context.Background(), query, clientAddr(40008), sender)
	})

	// The broadcast continues past the failing observer.
	names, _ := second.calls()
	require.Len(t, names, 1)
	assert.True(t, logger.has("error", "Reply observer panicked"))
}

func TestHandler_PanicInForwarder_DoesNotEscape(t *testing.T) {
	query := packTestQuery(t, 14, "example.com.")

	panicForwarder := forwarderFunc(func(context.Context, []byte) ([]byte, error) {
		panic("forwarder exploded")
	})

	logger := newCapturingLogger()
	h := newTestHandler(t, HandlerOptions{Upstream: panicForwarder, Logger: logger})
	sender := &recordingSender{}

	assert.NotPanics(t, func() {
		h.HandleDatagram(context.Background(), query, clientAddr(40009), sender)
	})
	assert.Empty(t, sender.sent())
	assert.True(t, logger.has("error", "Query handling panicked"))
}

// forwarderFunc adapts a function to the Forwarder interface.
type forwarderFunc func(ctx context.Context, query []byte) ([]byte, error)

func (f forwarderFunc) Forward(ctx context.Context, query []byte) ([]byte, error) {
	return f(ctx, query)
}

func TestHandler_ConcurrentQueries_NoCrossDelivery(t *testing.T) {
	const numClients = 100

	// Echo-style forwarder: the reply carries the query's ID, so every
	// client's reply is distinguishable.
	echo := forwarderFunc(func(_ context.Context, query []byte) ([]byte, error) {
		var p dnsmessage.Parser
		header, err := p.Start(query)
		if err != nil {
			return nil, err
		}
		q, err := p.Question()
		if err != nil {
			return nil, err
		}
		msg := dnsmessage.Message{
			Header:    dnsmessage.Header{ID: header.ID, Response: true},
			Questions: []dnsmessage.Question{q},
			Answers: []dnsmessage.Resource{{
				Header: dnsmessage.ResourceHeader{
					Name:  q.Name,
					Type:  dnsmessage.TypeA,
					Class: dnsmessage.ClassINET,
					TTL:   60,
				},
				Body: &dnsmessage.AResource{A: [4]byte{10, 0, byte(header.ID >> 8), byte(header.ID)}},
			}},
		}
		return msg.Pack()
	})

	h := newTestHandler(t, HandlerOptions{Upstream: echo})

	type delivery struct {
		addr net.Addr
		data []byte
	}
	var (
		mu         sync.Mutex
		deliveries []delivery
	)
	sender := senderFunc(func(data []byte, addr net.Addr) error {
		mu.Lock()
		deliveries = append(deliveries, delivery{addr: addr, data: append([]byte(nil), data...)})
		mu.Unlock()
		return nil
	})

	queries := make([][]byte, numClients)
	for i := 0; i < numClients; i++ {
		queries[i] = packTestQuery(t, uint16(i+1), fmt.Sprintf("client-%d.example.com.", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.HandleDatagram(context.Background(), queries[i], clientAddr(41000+i), sender)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, numClients)

	// Each client address received the reply carrying its own query ID.
	for _, d := range deliveries {
		var p dnsmessage.Parser
		header, err := p.Start(d.data)
		require.NoError(t, err)
		wantPort := 41000 + int(header.ID) - 1
		assert.Equal(t, wantPort, d.addr.(*net.UDPAddr).Port)
	}
}

// senderFunc adapts a function to the ReplySender interface.
type senderFunc func(data []byte, addr net.Addr) error

func (f senderFunc) SendTo(data []byte, addr net.Addr) error {
	return f(data, addr)
}
