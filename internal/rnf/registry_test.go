package rnf

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistryDeliverResolvesRegisteredCall(t *testing.T) {
	reg := NewRegistry()
	call := New[int](zerolog.Nop())
	call.Request(42)
	RegisterCall(reg, 42, call)

	if !reg.Deliver(42, 7, nil) {
		t.Fatal("Deliver on a registered cookie = false, want true")
	}
	v, err := call.FetchBlocking()
	if err != nil || v != 7 {
		t.Fatalf("FetchBlocking = %d/%v, want 7/nil", v, err)
	}
}

func TestRegistryDeliverUnknownCookieIsNoop(t *testing.T) {
	reg := NewRegistry()
	if reg.Deliver(99, nil, nil) {
		t.Fatal("Deliver on an unregistered cookie = true, want false")
	}
}

func TestRegistryDeliverPropagatesError(t *testing.T) {
	reg := NewRegistry()
	call := New[string](zerolog.Nop())
	call.Request(1)
	RegisterCall(reg, 1, call)

	wantErr := errors.New("boom")
	reg.Deliver(1, "", wantErr)

	_, err := call.FetchBlocking()
	if err != wantErr {
		t.Fatalf("FetchBlocking error = %v, want %v", err, wantErr)
	}
}

func TestRegistryCancelPreventsDelivery(t *testing.T) {
	reg := NewRegistry()
	call := New[int](zerolog.Nop())
	call.Request(5)
	RegisterCall(reg, 5, call)
	reg.Cancel(5)

	if reg.Deliver(5, 1, nil) {
		t.Fatal("Deliver after Cancel = true, want false")
	}
}

func TestRegistryOnRegisterHookFiresOnce(t *testing.T) {
	reg := NewRegistry()
	var seen []uint32
	reg.OnRegister = func(cookie uint32) { seen = append(seen, cookie) }

	call := New[int](zerolog.Nop())
	call.Request(3)
	RegisterCall(reg, 3, call)

	if len(seen) != 1 || seen[0] != 3 {
		t.Fatalf("OnRegister calls = %v, want [3]", seen)
	}
}
