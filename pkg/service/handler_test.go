package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/piconnect/piconnect-go/pkg/artifact"
	"github.com/piconnect/piconnect-go/pkg/job"
	"github.com/piconnect/piconnect-go/pkg/link"
	"github.com/piconnect/piconnect-go/pkg/registry"
	"github.com/piconnect/piconnect-go/pkg/session"
	"github.com/piconnect/piconnect-go/pkg/wire"
)

func TestStatusForComponentErrors(t *testing.T) {
	tests := []struct {
		err  error
		want wire.Status
	}{
		{registry.ErrUnknownDevice, wire.StatusUnknownDevice},
		{registry.ErrInvalidTransition, wire.StatusInvalidTransition},
		{registry.ErrWrongState, wire.StatusConflict},
		{session.ErrUnknownSession, wire.StatusUnknownSession},
		{session.ErrConflict, wire.StatusConflict},
		{session.ErrNotReserved, wire.StatusNotReserved},
		{job.ErrUnknownJob, wire.StatusUnknownJob},
		{job.ErrInvalidJob, wire.StatusInvalidParameter},
		{artifact.ErrNotFound, wire.StatusArtifactMissing},
		{artifact.ErrOffsetOutOfRange, wire.StatusInvalidParameter},
		{link.ErrLinkLost, wire.StatusLinkLost},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
		wrapped := fmt.Errorf("context: %w", tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Errorf("statusFor(wrapped %v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStatusForUnmappedError(t *testing.T) {
	// A genuine server fault reports INTERNAL, not contention
	if got := statusFor(errors.New("sidecar write failed")); got != wire.StatusInternal {
		t.Errorf("statusFor(unmapped) = %s, want INTERNAL", got)
	}
}
