package netif

import (
	"testing"

	"bst-go/bsterrors"
)

func TestCreateUnknownKind(t *testing.T) {
	err := Create(Option{Kind: "bogus", Name: "eth0"})
	if !bsterrors.IsKind(err, bsterrors.ErrInvalidConfig) {
		t.Fatalf("Create() error = %v, want ErrInvalidConfig", err)
	}
}
