package capscope

import "testing"

func TestCapIndex(t *testing.T) {
	tests := []struct {
		cap     Capability
		wantIdx int
		wantBit uint32
	}{
		{CAP_DAC_OVERRIDE, 0, 1 << 1},
		{CAP_SETGID, 0, 1 << 6},
		{CAP_SETUID, 0, 1 << 7},
		{CAP_NET_ADMIN, 0, 1 << 12},
		{CAP_SYS_ADMIN, 0, 1 << 21},
	}

	for _, tt := range tests {
		idx, bit := capIndex(tt.cap)
		if idx != tt.wantIdx || bit != tt.wantBit {
			t.Errorf("capIndex(%v) = (%d, 0x%x), want (%d, 0x%x)", tt.cap, idx, bit, tt.wantIdx, tt.wantBit)
		}
	}
}

func TestReleaseNilScopeIsNoop(t *testing.T) {
	var s *Scope
	if err := s.Release(); err != nil {
		t.Errorf("Release() on nil scope = %v, want nil", err)
	}
}

func TestReleaseAlreadyReleasedIsNoop(t *testing.T) {
	s := &Scope{released: true}
	if err := s.Release(); err != nil {
		t.Errorf("Release() on already-released scope = %v, want nil", err)
	}
}
