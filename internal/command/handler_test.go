package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firestige.xyz/netslave/internal/driver"
)

// fakeController is a stub Controller, shared with server goroutines.
type fakeController struct {
	mu         sync.Mutex
	status     driver.Status
	restartErr error
	restarts   int
	stats      DaemonStats
}

func (f *fakeController) DriverStatus() driver.Status { return f.status }

func (f *fakeController) RequestRestart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarts++
	return nil
}

func (f *fakeController) Stats() DaemonStats { return f.stats }

func (f *fakeController) setRestartErr(err error) {
	f.mu.Lock()
	f.restartErr = err
	f.mu.Unlock()
}

func (f *fakeController) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func TestCommandHandler_DriverStatus(t *testing.T) {
	ctrl := &fakeController{status: driver.Status{State: driver.StateRunning, Ports: 6}}
	handler := NewCommandHandler(ctrl)

	resp := handler.Handle(context.Background(), Command{Method: MethodDriverStatus, ID: "req-1"})
	if resp.ID != "req-1" {
		t.Errorf("response ID = %s, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	st, ok := resp.Result.(driver.Status)
	if !ok {
		t.Fatalf("result type = %T, want driver.Status", resp.Result)
	}
	if st.State != driver.StateRunning || st.Ports != 6 {
		t.Errorf("status = %+v", st)
	}
}

func TestCommandHandler_DriverRestart(t *testing.T) {
	ctrl := &fakeController{}
	handler := NewCommandHandler(ctrl)

	resp := handler.Handle(context.Background(), Command{Method: MethodDriverRestart, ID: "req-2"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	if n := ctrl.restartCount(); n != 1 {
		t.Errorf("restarts = %d, want 1", n)
	}

	ctrl.setRestartErr(errors.New("daemon stopping"))
	resp = handler.Handle(context.Background(), Command{Method: MethodDriverRestart, ID: "req-3"})
	if resp.Error == nil || resp.Error.Code != ErrCodeInternalError {
		t.Errorf("expected internal error, got %+v", resp.Error)
	}
}

func TestCommandHandler_NoController(t *testing.T) {
	handler := NewCommandHandler(nil)

	for _, method := range []string{MethodDriverStatus, MethodDriverRestart, MethodDaemonStats} {
		resp := handler.Handle(context.Background(), Command{Method: method, ID: "x"})
		if resp.Error == nil {
			t.Errorf("%s: expected error without controller", method)
		}
	}

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonStatus, ID: "y"})
	if resp.Error != nil {
		t.Errorf("daemon_status should not need a controller: %v", resp.Error.Message)
	}
}

func TestCommandHandler_DaemonShutdown(t *testing.T) {
	handler := NewCommandHandler(&fakeController{})

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "s1"})
	if resp.Error == nil {
		t.Error("expected error when shutdown func is not registered")
	}

	called := make(chan struct{})
	handler.SetShutdownFunc(func() { close(called) })
	resp = handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "s2"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("shutdown func not called")
	}
	if !handler.ShuttingDown() {
		t.Error("handler not marked as shutting down")
	}

	resp = handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "s3"})
	if resp.Error == nil || resp.Error.Code != ErrCodeShuttingDown {
		t.Errorf("second shutdown: expected shutting-down error, got %+v", resp.Error)
	}
}

func TestCommandHandler_DaemonStats(t *testing.T) {
	ctrl := &fakeController{stats: DaemonStats{Cycles: 42, Restarts: 2}}
	handler := NewCommandHandler(ctrl)

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonStats, ID: "st"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	stats, ok := resp.Result.(DaemonStats)
	if !ok {
		t.Fatalf("result type = %T, want DaemonStats", resp.Result)
	}
	if stats.Cycles != 42 || stats.Restarts != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.UptimeSec < 0 {
		t.Errorf("uptime = %d", stats.UptimeSec)
	}
}

func TestCommandHandler_DaemonStatus(t *testing.T) {
	ctrl := &fakeController{status: driver.Status{State: driver.StateOpened}}
	handler := NewCommandHandler(ctrl)

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonStatus, ID: "ds"})
	info, ok := resp.Result.(DaemonInfo)
	if !ok {
		t.Fatalf("result type = %T, want DaemonInfo", resp.Result)
	}
	if info.Version != Version {
		t.Errorf("version = %v, want %s", info.Version, Version)
	}
	if info.DriverState != driver.StateOpened {
		t.Errorf("driver_state = %v", info.DriverState)
	}
	if info.ShuttingDown {
		t.Error("shutting_down set before daemon_shutdown")
	}
}

func TestCommandHandler_UnknownMethod(t *testing.T) {
	handler := NewCommandHandler(&fakeController{})

	resp := handler.Handle(context.Background(), Command{Method: "task_create", ID: "u"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}
