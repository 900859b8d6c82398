package kind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromString(t *testing.T) {
	testcases := []struct {
		in      string
		want    Backend
		wantErr error
	}{
		{"libvirt", Libvirt, nil},
		{"OpenStack", OpenStack, nil},
		{"nova", OpenStack, nil},
		{"vsphere", VMware, nil},
		{"dryrun", DryRun, nil},
		{"xen", Unknown, ErrUnknownBackendKind},
	}

	for _, tc := range testcases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := FromString(tc.in)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, b := range []Backend{Libvirt, OpenStack, VMware, DryRun} {
		got, err := FromString(b.String())
		assert.NoError(t, err)
		assert.Equal(t, b, got)
	}
}
