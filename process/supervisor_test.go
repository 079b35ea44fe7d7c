package process

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_Start(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("sleeper", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	if proc.ID == "" {
		t.Error("expected generated process id")
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 tracked process, got %d", s.Count())
	}
	if s.Get(proc.ID) != proc {
		t.Error("process not retrievable by id")
	}
}

func TestSupervisor_StartWithID(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.StartWithID("my-id", "sleeper", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	if proc.ID != "my-id" {
		t.Errorf("expected id 'my-id', got %q", proc.ID)
	}

	_, err = s.StartWithID("my-id", "dup", exec.Command("sleep", "10"))
	if err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestSupervisor_MaxProcesses(t *testing.T) {
	s := NewSupervisor(WithMaxProcesses(2))
	defer s.Shutdown(time.Second)

	if _, err := s.Start("p1", exec.Command("sleep", "10")); err != nil {
		t.Fatalf("failed to start p1: %v", err)
	}
	if _, err := s.Start("p2", exec.Command("sleep", "10")); err != nil {
		t.Fatalf("failed to start p2: %v", err)
	}
	if _, err := s.Start("p3", exec.Command("sleep", "10")); err == nil {
		t.Error("expected error at process limit")
	}
}

func TestSupervisor_UntracksExited(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("echo", exec.Command("echo", "hello"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	<-proc.Done()

	// The monitor goroutine unregisters shortly after exit.
	deadline := time.After(2 * time.Second)
	for s.Get(proc.ID) != nil {
		select {
		case <-deadline:
			t.Fatal("exited process still tracked")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSupervisor_ExitCallback(t *testing.T) {
	var called atomic.Bool
	s := NewSupervisor(WithExitCallback(func(p *Process) {
		called.Store(true)
	}))
	defer s.Shutdown(time.Second)

	proc, err := s.Start("echo", exec.Command("echo", "hello"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	<-proc.Done()

	deadline := time.After(2 * time.Second)
	for !called.Load() {
		select {
		case <-deadline:
			t.Fatal("exit callback not invoked")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSupervisor_ExitCallbackPanicContained(t *testing.T) {
	s := NewSupervisor(WithExitCallback(func(p *Process) {
		panic("callback bug")
	}))
	defer s.Shutdown(time.Second)

	proc, err := s.Start("echo", exec.Command("echo", "hello"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	<-proc.Done()

	// The process must still be unregistered despite the panic.
	deadline := time.After(2 * time.Second)
	for s.Get(proc.ID) != nil {
		select {
		case <-deadline:
			t.Fatal("process still tracked after callback panic")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSupervisor_KillAndTerminate(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("sleeper", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	if err := s.Terminate(proc.ID); err != nil {
		t.Fatalf("failed to terminate: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after terminate")
	}

	if err := s.Kill("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	for i := 0; i < 3; i++ {
		if _, err := s.Start("sleeper", exec.Command("sleep", "10")); err != nil {
			t.Fatalf("failed to start process %d: %v", i, err)
		}
	}

	s.Shutdown(time.Second)

	if s.Count() != 0 {
		t.Errorf("expected 0 tracked processes after shutdown, got %d", s.Count())
	}
	if !s.IsShuttingDown() {
		t.Error("expected IsShuttingDown after shutdown")
	}

	if _, err := s.Start("late", exec.Command("echo", "hello")); !errors.Is(err, ErrSupervisorShutdown) {
		t.Errorf("expected ErrSupervisorShutdown, got %v", err)
	}
}
