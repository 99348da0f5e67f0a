package wire

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTerminalCode(t *testing.T) {
	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.OK, false},
		{codes.Canceled, false},
		{codes.Unknown, false},
		{codes.InvalidArgument, true},
		{codes.DeadlineExceeded, false},
		{codes.NotFound, true},
		{codes.AlreadyExists, true},
		{codes.PermissionDenied, true},
		{codes.ResourceExhausted, false},
		{codes.FailedPrecondition, true},
		{codes.Aborted, false},
		{codes.OutOfRange, true},
		{codes.Unimplemented, true},
		{codes.Internal, false},
		{codes.Unavailable, false},
		{codes.DataLoss, true},
		{codes.Unauthenticated, true},
		{codes.Code(99), false},
	}
	for _, tc := range tests {
		if got := IsTerminalCode(tc.code); got != tc.want {
			t.Fatalf("IsTerminalCode(%d %s) = %v, want %v", tc.code, tc.code, got, tc.want)
		}
	}
}

func TestStatusErrRoundTrip(t *testing.T) {
	st := &Status{Code: codes.NotFound, Message: "session not found"}
	err := st.Err()
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", status.Code(err))
	}
	back := StatusFromError(err)
	if back.Code != codes.NotFound || back.Message != "session not found" {
		t.Fatalf("unexpected status %+v", back)
	}
	if !back.Terminal() {
		t.Fatalf("expected NotFound to be terminal")
	}
	if (&Status{Code: codes.OK}).Err() != nil {
		t.Fatalf("expected nil error for OK")
	}
	plain := StatusFromError(errors.New("boom"))
	if plain.Code != codes.Unknown || plain.Terminal() {
		t.Fatalf("expected retriable unknown status, got %+v", plain)
	}
}
