package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestListenDialRoundTrip(t *testing.T) {
	serverT, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clientT, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted, err := serverT.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	// quic.ListenAddr with port 0 resolves immediately but the transport
	// doesn't expose the bound address here, so exercise Dial against a
	// known fixed port instead.
	_ = accepted

	serverT2, err := New()
	if err != nil {
		t.Fatal(err)
	}
	addr := "127.0.0.1:48217"
	accepted2, err := serverT2.Listen(ctx, addr)
	if err != nil {
		t.Fatalf("Listen fixed: %v", err)
	}

	clientConnCh := make(chan Connection, 1)
	go func() {
		conn, err := clientT.Dial(ctx, addr)
		if err != nil {
			t.Logf("dial error: %v", err)
			return
		}
		clientConnCh <- conn
	}()

	serverConn, ok := <-accepted2
	if !ok {
		t.Fatalf("server did not accept a connection")
	}
	defer serverConn.Close()

	clientConn := <-clientConnCh
	defer clientConn.Close()

	serverStreamCh := make(chan Stream, 1)
	go func() {
		s, err := serverConn.AcceptStream(ctx)
		if err == nil {
			serverStreamCh <- s
		}
	}()

	clientStream, err := clientConn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := clientStream.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	serverStream := <-serverStreamCh
	buf := make([]byte, 4)
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("want ping, got %q", buf)
	}
}
