package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// keyedConnector opens per-key connections, optionally parking a key's dial
// on a gate channel until the test releases it.
type keyedConnector struct {
	mu    sync.Mutex
	opens map[snowflake.ID]int
	gates map[snowflake.ID]chan struct{}
	conns map[snowflake.ID]Conn
}

func (c *keyedConnector) gate(key snowflake.ID) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gates == nil {
		c.gates = make(map[snowflake.ID]chan struct{})
	}
	g := make(chan struct{})
	c.gates[key] = g
	return g
}

func (c *keyedConnector) openCount(key snowflake.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[key]
}

func (c *keyedConnector) OpenConn(ctx context.Context, key snowflake.ID, _ bool) (Conn, error) {
	c.mu.Lock()
	if c.opens == nil {
		c.opens = make(map[snowflake.ID]int)
	}
	c.opens[key]++
	g := c.gates[key]
	conn := c.conns[key]
	c.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if conn != nil {
		return conn, nil
	}
	return &fakeConn{}, nil
}

// trackedConn reports when the registry closed it.
type trackedConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *trackedConn) SetOpusFrameProvider(OpusFrameProvider)  {}
func (c *trackedConn) SetSpeaking(context.Context, bool) error { return nil }
func (c *trackedConn) Close(context.Context)                   { c.once.Do(func() { close(c.closed) }) }

func TestRegistryConnectIdempotent(t *testing.T) {
	connector := &fakeConnector{}
	r := NewConnectionRegistry(connector, 0.08)
	key := snowflake.ID(1)
	ctx := context.Background()

	d1, err := r.Connect(ctx, key, false)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	d2, err := r.Connect(ctx, key, false)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("second connect returned a different dispatcher")
	}
	connector.mu.Lock()
	opens := connector.opens
	connector.mu.Unlock()
	if opens != 1 {
		t.Errorf("transport opened %d times, want 1", opens)
	}
	if r.Dispatcher(key) != d1 {
		t.Errorf("Dispatcher(key) does not return the cached entry")
	}

	r.Disconnect(ctx, key)
	if r.Dispatcher(key) != nil {
		t.Errorf("entry survived disconnect")
	}
	r.Disconnect(ctx, key) // absent is a no-op

	d3, err := r.Connect(ctx, key, false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if d3 == d1 {
		t.Errorf("reconnect reused the closed dispatcher")
	}
}

func TestRegistryNilConnector(t *testing.T) {
	r := NewConnectionRegistry(nil, 0.08)
	if _, err := r.Connect(context.Background(), snowflake.ID(1), false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestRegistryIndependentDestinations(t *testing.T) {
	connector := &keyedConnector{}
	gate := connector.gate(snowflake.ID(1))
	r := NewConnectionRegistry(connector, 0.08)

	slow := make(chan error, 1)
	go func() {
		_, err := r.Connect(context.Background(), snowflake.ID(1), false)
		slow <- err
	}()
	waitFor(t, time.Second, "first dial in flight", func() bool {
		return connector.openCount(snowflake.ID(1)) == 1
	})

	// A dial parked on one destination must not delay another.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := r.Connect(ctx, snowflake.ID(2), false); err != nil {
		t.Fatalf("connect to second destination: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("second destination waited %v behind the first dial", elapsed)
	}
	if r.Dispatcher(snowflake.ID(1)) != nil {
		t.Errorf("Dispatcher returned an entry whose dial has not finished")
	}

	close(gate)
	if err := <-slow; err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if r.Dispatcher(snowflake.ID(1)) == nil {
		t.Errorf("first destination missing after its dial finished")
	}
}

func TestRegistryConnectSameKeyRace(t *testing.T) {
	connector := &keyedConnector{}
	gate := connector.gate(snowflake.ID(7))
	r := NewConnectionRegistry(connector, 0.08)

	const callers = 16
	results := make(chan *Dispatcher, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Connect(context.Background(), snowflake.ID(7), false)
			if err != nil {
				t.Errorf("connect: %v", err)
				return
			}
			results <- d
		}()
	}
	waitFor(t, time.Second, "dial in flight", func() bool {
		return connector.openCount(snowflake.ID(7)) >= 1
	})
	close(gate)
	wg.Wait()
	close(results)

	first := <-results
	if first == nil {
		t.Fatal("no dispatcher returned")
	}
	for d := range results {
		if d != first {
			t.Fatal("concurrent connects returned different dispatchers")
		}
	}
	if opens := connector.openCount(snowflake.ID(7)); opens != 1 {
		t.Errorf("transport opened %d times, want 1", opens)
	}
}

func TestRegistryDisconnectDuringDial(t *testing.T) {
	conn := &trackedConn{closed: make(chan struct{})}
	connector := &keyedConnector{conns: map[snowflake.ID]Conn{3: conn}}
	gate := connector.gate(snowflake.ID(3))
	r := NewConnectionRegistry(connector, 0.08)

	result := make(chan error, 1)
	go func() {
		_, err := r.Connect(context.Background(), snowflake.ID(3), false)
		result <- err
	}()
	waitFor(t, time.Second, "dial in flight", func() bool {
		return connector.openCount(snowflake.ID(3)) == 1
	})

	r.Disconnect(context.Background(), snowflake.ID(3))
	close(gate)

	if err := <-result; !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("abandoned connection was never closed")
	}
	if r.Dispatcher(snowflake.ID(3)) != nil {
		t.Errorf("entry survived disconnect")
	}
}
