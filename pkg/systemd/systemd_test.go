package systemd

import (
	"reflect"
	"testing"
)

func TestNotifierStates(t *testing.T) {
	t.Parallel()

	var got []string
	n := Notifier{send: func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}}
	_, _ = n.Ready()
	_, _ = n.Status("%d triggers armed", 3)
	_, _ = n.Reloading()
	_, _ = n.Stopping()

	want := []string{"READY=1", "STATUS=3 triggers armed", "RELOADING=1", "STOPPING=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %q, want %q", got, want)
	}
}

func TestNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	ok, err := Notifier{}.Ready()
	if ok || err != nil {
		t.Fatalf("Ready without socket = %v, %v", ok, err)
	}
}
