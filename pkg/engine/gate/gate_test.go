package gate

import "testing"

func TestGateResolveOnceWins(t *testing.T) {
	g := New("g1", KindWrite)
	if err := g.Resolve(Decision{Write: WriteAccepted}); err != nil {
		t.Fatalf("first resolve: unexpected error %v", err)
	}
	if err := g.Resolve(Decision{Write: WriteRejected}); err != ErrAlreadyResolved {
		t.Fatalf("second resolve: got %v, want ErrAlreadyResolved", err)
	}

	d, err := g.Wait()
	if err != nil {
		t.Fatalf("Wait: unexpected error %v", err)
	}
	if d.Write != WriteAccepted {
		t.Fatalf("Wait returned %q, want the first decision", d.Write)
	}
}

func TestGateCancelIsNoOpAfterResolve(t *testing.T) {
	g := New("g1", KindShell)
	if err := g.Resolve(Decision{Shell: ShellRan}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	g.Cancel()

	d, err := g.Wait()
	if err != nil {
		t.Fatalf("Wait: unexpected error %v", err)
	}
	if d.Shell != ShellRan {
		t.Fatalf("Cancel after Resolve overwrote the decision: got %q", d.Shell)
	}
}

func TestGateWaitReportsCancelled(t *testing.T) {
	g := New("g1", KindCommandPicker)
	g.Cancel()
	_, err := g.Wait()
	if err != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestManagerRejectsSecondPending(t *testing.T) {
	var m Manager
	g1 := New("g1", KindWrite)
	g2 := New("g2", KindWrite)

	if err := m.Open(g1); err != nil {
		t.Fatalf("Open(g1): unexpected error %v", err)
	}
	if err := m.Open(g2); err == nil {
		t.Fatalf("Open(g2): expected error while g1 is still pending")
	}
}

func TestManagerResolveClearsPending(t *testing.T) {
	var m Manager
	g1 := New("g1", KindWrite)
	if err := m.Open(g1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Resolve("g1", Decision{Write: WriteAlways}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Pending() != nil {
		t.Fatalf("Pending() after Resolve: expected nil")
	}

	// A second gate can now be opened.
	g2 := New("g2", KindShell)
	if err := m.Open(g2); err != nil {
		t.Fatalf("Open(g2) after g1 resolved: unexpected error %v", err)
	}
}

func TestManagerCancelAllUnblocksWaiters(t *testing.T) {
	var m Manager
	g := New("g1", KindShell)
	if err := m.Open(g); err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.Wait()
		done <- err
	}()

	m.CancelAll()

	if err := <-done; err != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if m.Pending() != nil {
		t.Fatalf("Pending() after CancelAll: expected nil")
	}
}

func TestManagerResolveUnknownIDFails(t *testing.T) {
	var m Manager
	if err := m.Resolve("nope", Decision{}); err == nil {
		t.Fatalf("expected error resolving an id with no pending gate")
	}
}
