package ipc

import (
	"testing"
	"time"

	"corvid/arch"
	"corvid/defs"
	"corvid/ksync"
)

func init() {
	ksync.Bind(arch.NewSoftArch())
}

func TestListenOpenAcceptSendReceive(t *testing.T) {
	r := NewRegistry()
	port, err := r.Listen("echo", 4)
	if err != defs.EOK {
		t.Fatalf("Listen err = %v", err)
	}

	client, err := r.Open("echo")
	if err != defs.EOK {
		t.Fatalf("Open err = %v", err)
	}
	server, err := port.Accept(defs.Indefinite, nil)
	if err != defs.EOK {
		t.Fatalf("Accept err = %v", err)
	}

	if err := client.Send(Message{Data: []byte("hi")}, defs.Indefinite, nil); err != defs.EOK {
		t.Fatalf("Send err = %v", err)
	}
	msg, err := server.Receive(defs.Indefinite, nil)
	if err != defs.EOK {
		t.Fatalf("Receive err = %v", err)
	}
	if string(msg.Data) != "hi" {
		t.Fatalf("Receive got %q, want %q", msg.Data, "hi")
	}
}

func TestListenDuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Listen("dup", 1); err != defs.EOK {
		t.Fatalf("first Listen err = %v", err)
	}
	if _, err := r.Listen("dup", 1); err != defs.EEXIST {
		t.Fatalf("second Listen err = %v, want EEXIST", err)
	}
}

func TestOpenUnknownPortFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Open("nobody"); err != defs.ENOTFOUND {
		t.Fatalf("Open err = %v, want ENOTFOUND", err)
	}
}

func TestSendBlocksUntilReceiverDrains(t *testing.T) {
	r := NewRegistry()
	port, _ := r.Listen("blocker", 1)
	client, _ := r.Open("blocker")
	server, _ := port.Accept(defs.Indefinite, nil)

	for i := 0; i < defs.QueueMax; i++ {
		if err := client.Send(Message{Data: []byte{byte(i)}}, 0, nil); err != defs.EOK {
			t.Fatalf("fill Send %d err = %v", i, err)
		}
	}

	blocked := make(chan defs.Err_t, 1)
	go func() {
		blocked <- client.Send(Message{Data: []byte("overflow")}, defs.Indefinite, nil)
	}()

	select {
	case <-blocked:
		t.Fatal("Send on a full queue returned before the receiver drained it")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := server.Receive(defs.Indefinite, nil); err != defs.EOK {
		t.Fatalf("Receive err = %v", err)
	}

	select {
	case err := <-blocked:
		if err != defs.EOK {
			t.Fatalf("unblocked Send err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send never unblocked after receiver made room")
	}
}

func TestHangupUnblocksPeer(t *testing.T) {
	r := NewRegistry()
	port, _ := r.Listen("hangup", 1)
	client, _ := r.Open("hangup")
	server, _ := port.Accept(defs.Indefinite, nil)

	done := make(chan defs.Err_t, 1)
	go func() {
		_, err := server.Receive(defs.Indefinite, nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	client.Hangup()

	select {
	case err := <-done:
		if err != defs.EDESTUNREACH {
			t.Fatalf("Receive after hangup = %v, want EDESTUNREACH", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive never woke after peer hung up")
	}
}

func TestPeekDoesNotDequeue(t *testing.T) {
	r := NewRegistry()
	port, _ := r.Listen("peek", 1)
	client, _ := r.Open("peek")
	server, _ := port.Accept(defs.Indefinite, nil)

	if _, err := server.Peek(); err != defs.ENOTFOUND {
		t.Fatalf("Peek on empty queue = %v, want ENOTFOUND", err)
	}

	client.Send(Message{Data: []byte("x")}, defs.Indefinite, nil)
	m, err := server.Peek()
	if err != defs.EOK || string(m.Data) != "x" {
		t.Fatalf("Peek = %v,%v want x,EOK", m, err)
	}
	m2, err := server.Receive(defs.Indefinite, nil)
	if err != defs.EOK || string(m2.Data) != "x" {
		t.Fatalf("Receive after Peek = %v,%v want x,EOK", m2, err)
	}
}

func TestPortCloseHangsUpBacklog(t *testing.T) {
	r := NewRegistry()
	port, _ := r.Listen("closing", 4)
	client, _ := r.Open("closing")

	r.Close(port)

	if _, err := r.Open("closing"); err != defs.ENOTFOUND {
		t.Fatalf("Open after Close = %v, want ENOTFOUND", err)
	}
	if err := client.Send(Message{Data: []byte("x")}, 0, nil); err != defs.EDESTUNREACH {
		t.Fatalf("Send to a closed port's backlog connection = %v, want EDESTUNREACH", err)
	}
}

func TestConnectionSatisfiesKobjectWait(t *testing.T) {
	r := NewRegistry()
	port, _ := r.Listen("waitobj", 1)
	client, _ := r.Open("waitobj")
	server, _ := port.Accept(defs.Indefinite, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		client.Send(Message{Data: []byte("y")}, defs.Indefinite, nil)
	}()

	status, err := server.Wait(defs.Indefinite, nil)
	if err != defs.EOK || status != ksync.WakeNormal {
		t.Fatalf("Wait = %v,%v want EOK,WakeNormal", status, err)
	}
}
