package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

// frameRecorder is a Writer that keeps every frame it was given
type frameRecorder struct {
	mutex  sync.Mutex
	frames []string
	err    error
}

func (w *frameRecorder) Write(_ context.Context, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, string(data))
	return nil
}

func (w *frameRecorder) Fail(err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.err = err
}

func (w *frameRecorder) Frames() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return append([]string(nil), w.frames...)
}

// eventRecorder is a Sink that keeps a textual log of events
type eventRecorder struct {
	mutex  sync.Mutex
	events []string
}

func (s *eventRecorder) add(event string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
}

func (s *eventRecorder) Connected(address string, port int) { s.add("connected") }
func (s *eventRecorder) Disconnected(address string, port int) {
	s.add("disconnected")
}
func (s *eventRecorder) ParseWarning(err error) { s.add("warning") }
func (s *eventRecorder) Fatal(message string)   { s.add("fatal: " + message) }
func (s *eventRecorder) Status(Status)          {}

func (s *eventRecorder) Events() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.events...)
}

var _ = Describe("ConnectionManager", func() {
	var (
		mockCtrl *gomock.Controller
		writer   *MockWriter
		sink     *MockSink
		tracker  *ActivityTracker
		manager  *ConnectionManager
		server   net.Conn
		client   net.Conn
		touches  int
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		writer = NewMockWriter(mockCtrl)
		sink = NewMockSink(mockCtrl)
		tracker = NewActivityTracker()
		touches = 0
		tracker.now = func() time.Time {
			touches++
			return time.Unix(int64(touches), 0)
		}
		manager = NewConnectionManager(writer, NewTranslator(false), tracker, sink, zap.NewNop(), Options{})
		server, client = net.Pipe()
	})

	AfterEach(func() {
		client.Close()
		server.Close()
	})

	connect := func() *Connection {
		sink.EXPECT().Connected("pipe", 0)
		return manager.OnConnect(server)
	}

	It("should register connections in the live set", func() {
		c := connect()

		Expect(manager.Connections()).To(ConsistOf(c.Key()))
		Expect(tracker.Snapshot().ActiveConnections).To(Equal(1))
	})

	It("should write every segment of a chunk in order", func() {
		c := connect()

		gomock.InOrder(
			writer.EXPECT().Write(gomock.Any(), []byte("Aconw")).Return(nil),
			writer.EXPECT().Write(gomock.Any(), []byte("Bcoffw")).Return(nil),
		)

		err := manager.OnData(context.Background(), c,
			[]byte(`{"channel":"A","value":"on"}{"channel":"B","value":"off"}`))

		Expect(err).NotTo(HaveOccurred())
		Expect(tracker.Snapshot().TotalMessages).To(Equal(uint64(2)))
		Expect(touches).To(Equal(1))
	})

	It("should skip segments that fail to parse and keep going", func() {
		c := connect()

		gomock.InOrder(
			writer.EXPECT().Write(gomock.Any(), []byte("1c10w")).Return(nil),
			sink.EXPECT().ParseWarning(gomock.Any()).Do(func(err error) {
				Expect(errors.Is(err, ErrParse)).To(BeTrue())
			}),
			writer.EXPECT().Write(gomock.Any(), []byte("3c30w")).Return(nil),
		)

		err := manager.OnData(context.Background(), c,
			[]byte(`{"channel":1,"value":10}{oops}{"channel":3,"value":30}`))

		Expect(err).NotTo(HaveOccurred())
		Expect(tracker.Snapshot().TotalMessages).To(Equal(uint64(3)))
		Expect(touches).To(Equal(1))
	})

	It("should count segments even when none of them parse", func() {
		c := connect()

		sink.EXPECT().ParseWarning(gomock.Any()).Times(2)

		Expect(manager.OnData(context.Background(), c, []byte("{a}{b}"))).To(Succeed())
		Expect(tracker.Snapshot().TotalMessages).To(Equal(uint64(2)))
	})

	It("should silently drop chunks that are not objects", func() {
		c := connect()

		Expect(manager.OnData(context.Background(), c, []byte(`"channel":1`))).To(Succeed())
		Expect(manager.OnData(context.Background(), c, []byte(`{"channel":1`))).To(Succeed())

		snap := tracker.Snapshot()
		Expect(snap.TotalMessages).To(BeZero())
		Expect(snap.LastMessageAt.IsZero()).To(BeTrue())
	})

	It("should stop the batch on a serial write failure", func() {
		c := connect()
		cause := errors.New("device unplugged")

		writer.EXPECT().Write(gomock.Any(), []byte("1c1w")).Return(cause)

		err := manager.OnData(context.Background(), c,
			[]byte(`{"channel":1,"value":1}{"channel":2,"value":2}`))

		Expect(err).To(MatchError(cause))
		Expect(tracker.Snapshot().TotalMessages).To(Equal(uint64(1)))
	})

	It("should not write once the manager has failed", func() {
		c := connect()
		cause := errors.New("device unplugged")

		sink.EXPECT().Fatal(gomock.Any()).Times(1)
		manager.fail(cause)
		manager.fail(errors.New("second failure"))

		err := manager.OnData(context.Background(), c, []byte(`{"channel":1,"value":1}`))
		Expect(err).To(MatchError(cause))
		Expect(manager.Err()).To(MatchError(cause))
	})

	It("should stop accepting before reporting the failure", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		manager.cancel = cancel

		sink.EXPECT().Fatal("device unplugged").Do(func(string) {
			Expect(ctx.Err()).To(MatchError(context.Canceled))
		})
		manager.fail(errors.New("device unplugged"))
	})

	It("should remove closed connections exactly once", func() {
		c := connect()

		sink.EXPECT().Disconnected("pipe", 0).Times(1)

		manager.OnClose(c)
		manager.OnClose(c)

		Expect(manager.Connections()).To(BeEmpty())
		Expect(tracker.Snapshot().ActiveConnections).To(BeZero())
	})
})

var _ = Describe("ConnectionManager serving TCP", func() {
	var (
		writer   *frameRecorder
		sink     *eventRecorder
		tracker  *ActivityTracker
		manager  *ConnectionManager
		listener net.Listener
		ctx      context.Context
		cancel   context.CancelFunc
		served   chan error
	)

	BeforeEach(func() {
		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		writer = &frameRecorder{}
		sink = &eventRecorder{}
		tracker = NewActivityTracker()
		manager = NewConnectionManager(writer, NewTranslator(false), tracker, sink, zap.NewNop(), Options{ReadBufferSize: 1024})

		ctx, cancel = context.WithCancel(context.Background())
		served = make(chan error, 1)
		go func() { served <- manager.Serve(ctx, listener) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(served).Should(Receive())
	})

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", listener.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	It("should relay a client's commands to the serial writer", func() {
		conn := dial()
		defer conn.Close()

		_, err := conn.Write([]byte(`{"channel":"A","value":"on"}{"channel":"B","value":"off"}`))
		Expect(err).NotTo(HaveOccurred())

		Eventually(writer.Frames).Should(Equal([]string{"Aconw", "Bcoffw"}))
		Expect(tracker.Snapshot().TotalMessages).To(Equal(uint64(2)))
		Eventually(func() bool { return tracker.Snapshot().LastMessageAt.IsZero() }).Should(BeFalse())
	})

	It("should track connects and disconnects", func() {
		first := dial()
		second := dial()

		Eventually(func() int { return tracker.Snapshot().ActiveConnections }).Should(Equal(2))
		Expect(manager.Connections()).To(ContainElement(first.LocalAddr().String()))

		first.Close()
		Eventually(func() int { return tracker.Snapshot().ActiveConnections }).Should(Equal(1))
		Expect(manager.Connections()).To(ConsistOf(second.LocalAddr().String()))

		second.Close()
		Eventually(func() int { return tracker.Snapshot().ActiveConnections }).Should(BeZero())
		Expect(sink.Events()).To(Equal([]string{"connected", "connected", "disconnected", "disconnected"}))
	})

	It("should keep the connection open after a malformed message", func() {
		conn := dial()
		defer conn.Close()

		_, err := conn.Write([]byte(`{not json}`))
		Expect(err).NotTo(HaveOccurred())
		Eventually(sink.Events).Should(ContainElement("warning"))

		_, err = conn.Write([]byte(`{"channel":9,"value":1}`))
		Expect(err).NotTo(HaveOccurred())
		Eventually(writer.Frames).Should(Equal([]string{"9c1w"}))
		Expect(tracker.Snapshot().ActiveConnections).To(Equal(1))
	})

	It("should stop serving after a serial write failure", func() {
		writer.Fail(errors.New("device unplugged"))

		conn := dial()
		defer conn.Close()

		_, err := conn.Write([]byte(`{"channel":1,"value":1}`))
		Expect(err).NotTo(HaveOccurred())

		var serveErr error
		Eventually(served).Should(Receive(&serveErr))
		Expect(serveErr).To(MatchError(ContainSubstring("device unplugged")))
		Expect(sink.Events()).To(ContainElement(HavePrefix("fatal: ")))

		_, err = net.DialTimeout("tcp", listener.Addr().String(), time.Second)
		Expect(err).To(HaveOccurred())

		// AfterEach expects one more result
		served <- nil
	})

	It("should close live connections on shutdown", func() {
		conn := dial()
		defer conn.Close()
		Eventually(func() int { return tracker.Snapshot().ActiveConnections }).Should(Equal(1))

		cancel()

		var serveErr error
		Eventually(served).Should(Receive(&serveErr))
		Expect(serveErr).NotTo(HaveOccurred())
		Expect(tracker.Snapshot().ActiveConnections).To(BeZero())

		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, err := conn.Read(buf)
		Expect(err).To(HaveOccurred())

		served <- nil
	})
})

var _ = Describe("splitAddr", func() {
	It("should split TCP addresses", func() {
		address, port := splitAddr(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4242})
		Expect(address).To(Equal("10.0.0.1"))
		Expect(port).To(Equal(4242))
	})

	It("should fall back to the address text", func() {
		address, port := splitAddr(fakeAddr("pipe"))
		Expect(address).To(Equal("pipe"))
		Expect(port).To(BeZero())
	})
})

type fakeAddr string

func (a fakeAddr) Network() string { return string(a) }
func (a fakeAddr) String() string  { return fmt.Sprint(string(a)) }
