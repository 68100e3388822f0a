package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotRegistered, "player %s is not registered", "p1")
	wrapped := fmt.Errorf("register: %w", err)

	if got := KindOf(wrapped); got != KindNotRegistered {
		t.Errorf("KindOf() = %s, want %s", got, KindNotRegistered)
	}
	if !Is(wrapped, KindNotRegistered) {
		t.Error("Is() should match through fmt wrapping")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should report KindUnknown")
	}
	if Is(nil, KindUnknown) {
		t.Error("nil error should not match any kind")
	}
}

func TestUnavailableUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Unavailable(cause, "save snapshot")

	if !errors.Is(err, cause) {
		t.Error("Unavailable should unwrap to its cause")
	}
	if err.Kind != KindPersistenceUnavailable {
		t.Errorf("kind = %s", err.Kind)
	}
}

func TestWithCopiesMetadata(t *testing.T) {
	base := New(KindResultConflict, "conflict")
	a := base.With("challenge", "c1")
	b := a.With("reporter", "p2")

	if base.Metadata != nil {
		t.Error("With must not mutate the receiver")
	}
	if len(a.Metadata) != 1 || len(b.Metadata) != 2 {
		t.Errorf("metadata sizes = %d, %d", len(a.Metadata), len(b.Metadata))
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		grpc codes.Code
		http int
	}{
		{KindSelfChallenge, codes.InvalidArgument, http.StatusBadRequest},
		{KindDuplicateChallenge, codes.AlreadyExists, http.StatusConflict},
		{KindNotInitialized, codes.NotFound, http.StatusNotFound},
		{KindTimeout, codes.FailedPrecondition, http.StatusConflict},
		{KindResultConflict, codes.Aborted, http.StatusConflict},
		{KindForbidden, codes.PermissionDenied, http.StatusForbidden},
		{KindPersistenceUnavailable, codes.Unavailable, http.StatusServiceUnavailable},
		{KindUnknown, codes.Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.kind.GRPCCode(); got != tt.grpc {
			t.Errorf("%s.GRPCCode() = %v, want %v", tt.kind, got, tt.grpc)
		}
		if got := tt.kind.HTTPStatus(); got != tt.http {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.http)
		}
	}
}

func TestGRPCStatus(t *testing.T) {
	if GRPCStatus(nil) != nil {
		t.Fatal("nil error should map to nil status")
	}

	st, _ := status.FromError(GRPCStatus(New(KindOutOfRange, "position 9 outside 1..3")))
	if st.Code() != codes.InvalidArgument {
		t.Errorf("code = %v", st.Code())
	}

	st, _ = status.FromError(GRPCStatus(errors.New("boom")))
	if st.Code() != codes.Internal {
		t.Errorf("unknown errors should be Internal, got %v", st.Code())
	}
}
