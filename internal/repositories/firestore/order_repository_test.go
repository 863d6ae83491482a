package firestore

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/oakmarket/api/internal/platform/firestore"
	"github.com/oakmarket/api/internal/repositories"
)

func TestMapOrderCreateErrorCommitConflict(t *testing.T) {
	// The exists precondition fails at commit, so the conflict arrives
	// wrapped by the transaction runner rather than from tx.Create.
	commitErr := pfirestore.WrapError("transaction",
		status.Error(codes.AlreadyExists, "entity already exists: order document"))

	err := mapOrderCreateError("pi_test_1", commitErr)
	if !errors.Is(err, repositories.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists for commit-time conflict, got %v", err)
	}
}

func TestMapOrderCreateErrorRawStatus(t *testing.T) {
	err := mapOrderCreateError("pi_test_1", status.Error(codes.AlreadyExists, "entity already exists"))
	if !errors.Is(err, repositories.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists for raw status error, got %v", err)
	}
}

func TestMapOrderCreateErrorPassthrough(t *testing.T) {
	already := fmt.Errorf("%w: pi_test_1", repositories.ErrOrderExists)
	wrapped := pfirestore.WrapError("transaction", already)

	err := mapOrderCreateError("pi_test_1", wrapped)
	if !errors.Is(err, repositories.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists to survive wrapping, got %v", err)
	}
}

func TestMapOrderCreateErrorOtherFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"unavailable", status.Error(codes.Unavailable, "backend down")},
		{"aborted", pfirestore.WrapError("transaction", status.Error(codes.Aborted, "contention"))},
		{"plain", errors.New("network broke")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapOrderCreateError("pi_test_1", tc.err)
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, repositories.ErrOrderExists) {
				t.Fatalf("%s must not classify as a duplicate: %v", tc.name, err)
			}
		})
	}

	if err := mapOrderCreateError("pi_test_1", nil); err != nil {
		t.Fatalf("expected nil passthrough, got %v", err)
	}
}
