package commandloop

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arobi/picobot/internal/controller/input"
	"github.com/arobi/picobot/internal/controller/session"
	"github.com/arobi/picobot/internal/controller/shaper"
	"github.com/arobi/picobot/internal/protocol"
)

// fixedSource always returns the same frame; tests drive estop via a
// mutable Pressed map.
type fixedSource struct {
	mu    sync.Mutex
	frame input.Frame
}

func (f *fixedSource) Poll() (input.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, nil
}

func (f *fixedSource) set(frame input.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = frame
}

func newLoopHarness(t *testing.T) (*Loop, *net.UDPConn) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	sess, err := session.Dial("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { sess.Close(); conn.Close() })

	src := &fixedSource{frame: input.Frame{Throttle: 0.5, Pressed: map[string]bool{}}}
	l := New(sess, src, shaper.New(shaper.Default()), nil, nil)
	return l, conn
}

func TestTickSendsDrivePacket(t *testing.T) {
	l, conn := newLoopHarness(t)
	l.tick(time.UnixMilli(1000))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	msg, err := protocol.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := msg.(protocol.Drive); !ok {
		t.Fatalf("got %T, want protocol.Drive", msg)
	}
}

func TestTickEstopSendsZeroDrive(t *testing.T) {
	l, conn := newLoopHarness(t)
	l.input.(*fixedSource).set(input.Frame{Throttle: 1, Steer: 1, Pressed: map[string]bool{"estop": true}})
	l.tick(time.UnixMilli(2000))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	msg, err := protocol.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	drive := msg.(protocol.Drive)
	if drive.Axes.Throttle != 0 || drive.Axes.Steer != 0 {
		t.Errorf("axes = %+v, want zeroed on estop", drive.Axes)
	}
}

func TestEnqueueDrainedBetweenTicks(t *testing.T) {
	l, conn := newLoopHarness(t)

	var ran bool
	l.Enqueue(func(s *session.Session) { ran = true })
	l.drainOneRequest()
	if !ran {
		t.Error("queued request was not run by drainOneRequest")
	}
	conn.Close()
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	l, conn := newLoopHarness(t)
	defer conn.Close()

	for i := 0; i < requestQueueDepth+5; i++ {
		l.Enqueue(func(s *session.Session) {})
	}
	if len(l.queue) != requestQueueDepth {
		t.Errorf("queue len = %d, want bounded at %d", len(l.queue), requestQueueDepth)
	}
}

func TestRequestCalibrationAppliesTrim(t *testing.T) {
	l, conn := newLoopHarness(t)

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if _, err := protocol.Parse(buf[:n]); err != nil {
			return
		}
		reply, _ := protocol.EncodeCalibrationResponse(1, protocol.Calibration{
			SteeringTrim: 0.1, MotorLeftScale: 1, MotorRightScale: 1,
		})
		conn.WriteToUDP(reply, addr)
	}()

	l.RequestCalibration()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l.getTrim() == 0.1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("trim = %v, want 0.1 after calibration_response", l.getTrim())
}

func TestRunRespectsContextCancellation(t *testing.T) {
	l, conn := newLoopHarness(t)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
