package realtime

import (
	"sync"
	"testing"
)

func TestDirectoryJoinAndRemove(t *testing.T) {
	d := NewDirectory()
	a := newSession("alice", 4)
	b := newSession("alice", 4)
	c := newSession("bob", 4)
	for _, s := range []*Session{a, b, c} {
		if err := d.Add(s); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	d.Join("room", a.ID)
	d.Join("room", c.ID)
	if got := len(d.Members("room")); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}

	if n := d.JoinUser("room", "alice"); n != 2 {
		t.Fatalf("expected both alice sessions attached, got %d", n)
	}
	if got := len(d.Members("room")); got != 3 {
		t.Fatalf("expected 3 members, got %d", got)
	}

	if removed := d.Remove(a.ID); removed != a {
		t.Fatal("expected removed session to be returned")
	}
	if d.Remove(a.ID) != nil {
		t.Fatal("second remove must be a no-op")
	}
	if got := len(d.Members("room")); got != 2 {
		t.Fatalf("expected 2 members after remove, got %d", got)
	}
	if got := len(d.UserSessions("alice")); got != 1 {
		t.Fatalf("expected 1 alice session, got %d", got)
	}
	if got := d.Rooms(a.ID); len(got) != 0 {
		t.Fatalf("removed session still has rooms %v", got)
	}
}

func TestDirectoryJoinUnknownSession(t *testing.T) {
	d := NewDirectory()
	if d.Join("room", "ghost") {
		t.Fatal("join for unknown session must fail")
	}
	if len(d.Members("room")) != 0 {
		t.Fatal("room must stay empty")
	}
}

func TestDirectoryLeave(t *testing.T) {
	d := NewDirectory()
	s := newSession("alice", 1)
	_ = d.Add(s)
	d.Join("r1", s.ID)
	d.Join("r2", s.ID)
	d.Leave("r1", s.ID)

	rooms := d.Rooms(s.ID)
	if len(rooms) != 1 || rooms[0] != "r2" {
		t.Fatalf("unexpected rooms %v", rooms)
	}
}

func TestDirectoryClose(t *testing.T) {
	d := NewDirectory()
	s := newSession("alice", 1)
	_ = d.Add(s)
	d.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed")
	}
	if d.Len() != 0 {
		t.Fatal("directory not cleared")
	}
	if err := d.Add(newSession("bob", 1)); err != ErrDirectoryClosed {
		t.Fatalf("expected ErrDirectoryClosed, got %v", err)
	}
}

func TestDirectoryConcurrentChurn(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newSession("alice", 1)
			_ = d.Add(s)
			d.Join("room", s.ID)
			_ = d.Members("room")
			d.Remove(s.ID)
		}()
	}
	wg.Wait()

	if d.Len() != 0 || len(d.Members("room")) != 0 {
		t.Fatal("sessions leaked after churn")
	}
}
