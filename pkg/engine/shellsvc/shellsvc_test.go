package shellsvc

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunReturnsStdoutAndExitCode(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Dispose()

	res, err := svc.Run(context.Background(), "echo hello", time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello")
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunPreservesShellStateAcrossCalls(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Dispose()

	if _, err := svc.Run(context.Background(), "export FOO=bar", time.Second); err != nil {
		t.Fatalf("Run(export): %v", err)
	}
	res, err := svc.Run(context.Background(), "echo $FOO", time.Second)
	if err != nil {
		t.Fatalf("Run(echo): %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "bar" {
		t.Fatalf("expected exported var to persist across calls, got %q", res.Stdout)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Dispose()

	// A child shell, not a bare "exit 7": commands run in the persistent
	// shell itself so its state survives between calls, and a bare exit
	// would take the whole subprocess down with it.
	res, err := svc.Run(context.Background(), "sh -c 'exit 7'", time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", res.ExitCode)
	}
}

func TestRunRejectsConcurrentCommand(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Dispose()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.Run(context.Background(), "sleep 0.3", time.Second)
		done <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err = svc.Run(context.Background(), "echo second", time.Second)
	if err != ErrBusy {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	<-done
}

func TestRunRespawnsAfterTimeout(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Dispose()

	_, err = svc.Run(context.Background(), "sleep 5", 100*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	// The next Run must respawn a working subprocess rather than staying
	// wedged forever.
	res, err := svc.Run(context.Background(), "echo back", 2*time.Second)
	if err != nil {
		t.Fatalf("Run after timeout: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "back" {
		t.Fatalf("stdout after respawn = %q, want %q", res.Stdout, "back")
	}
}

func TestDisposeRejectsInFlightRunPromptly(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.Run(context.Background(), "sleep 10", 30*time.Second)
		done <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	svc.Dispose()
	select {
	case err := <-done:
		if err != ErrDisposed {
			t.Fatalf("got %v, want ErrDisposed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return promptly after Dispose")
	}
}

func TestDisposePermanentlyRejectsRun(t *testing.T) {
	svc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.Dispose()

	_, err = svc.Run(context.Background(), "echo hi", time.Second)
	if err != ErrDisposed {
		t.Fatalf("got %v, want ErrDisposed", err)
	}
}

func TestRegistryReusesServicePerRoot(t *testing.T) {
	r := NewRegistry()
	defer r.DisposeAll()

	root := t.TempDir()
	s1, err := r.Get(root)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.Get(root)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same *Service for the same repo root")
	}
}
