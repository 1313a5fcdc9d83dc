package volumes

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
)

func TestParseProcMounts(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	data := []byte(`/dev/sda1 / ext4 rw,relatime 0 0
proc /proc proc rw,nosuid 0 0
/dev/sdb1 /mnt/My\040Disk ntfs3 rw 0 0
broken-line
`)

	g.Expect(parseProcMounts(data)).To(Equal([]Mount{
		{Device: "/dev/sda1", MountPoint: "/", FSType: "ext4"},
		{Device: "proc", MountPoint: "/proc", FSType: "proc"},
		{Device: "/dev/sdb1", MountPoint: "/mnt/My Disk", FSType: "ntfs3"},
	}))
}

func TestUnescapeOctal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: `a\040b`, want: "a b"},
		{in: `tab\011`, want: "tab\t"},
		{in: `trailing\04`, want: `trailing\04`},
		{in: `not\xyzoctal`, want: `not\xyzoctal`},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)
			g.Expect(unescapeOctal(tc.in)).To(Equal(tc.want))
		})
	}
}
