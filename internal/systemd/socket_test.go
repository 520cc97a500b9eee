package systemd

import "testing"

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners() error = %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Fatalf("expected no activated listeners, got %+v", listeners)
	}
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady() error = %v", err)
	}
	if err := NotifyStatus("tracking 2 apps"); err != nil {
		t.Errorf("NotifyStatus() error = %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Errorf("NotifyStopping() error = %v", err)
	}
}
