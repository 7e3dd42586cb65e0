package devicemap_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	. "github.com/sigreer/ephemeral/internal/devicemap"
	"github.com/sigreer/ephemeral/internal/metadata"
)

var _ = Describe("Mapper", func() {
	var (
		logs   *bytes.Buffer
		mapper *Mapper
	)

	BeforeEach(func() {
		logs = &bytes.Buffer{}
		mapper = New(zerolog.New(logs))
	})

	Context("when the guest exposes the reported name", func() {
		It("keeps the device unchanged", func() {
			devices := mapper.Reconcile([]string{"/dev/sdb"}, metadata.NewInventory("sdb"))
			Expect(devices).To(Equal([]string{"/dev/sdb"}))
		})

		It("keeps paths already using the xen naming", func() {
			devices := mapper.Reconcile([]string{"/dev/xvdb"}, metadata.NewInventory("xvdb"))
			Expect(devices).To(Equal([]string{"/dev/xvdb"}))
		})
	})

	Context("when only the /dev/xvdX name exists", func() {
		It("rewrites the device", func() {
			devices := mapper.Reconcile([]string{"/dev/sdb"}, metadata.NewInventory("xvdb"))
			Expect(devices).To(Equal([]string{"/dev/xvdb"}))
		})

		It("prefers the reported name when both exist", func() {
			devices := mapper.Reconcile([]string{"/dev/sdb"}, metadata.NewInventory("sdb", "xvdb"))
			Expect(devices).To(Equal([]string{"/dev/sdb"}))
		})
	})

	Context("when neither name exists", func() {
		It("drops the device and warns", func() {
			devices := mapper.Reconcile([]string{"/dev/sdc"}, metadata.NewInventory("sdb"))
			Expect(devices).To(BeEmpty())
			Expect(logs.String()).To(ContainSubstring(`"level":"warn"`))
			Expect(logs.String()).To(ContainSubstring("could not find ephemeral device: /dev/sdc"))
		})

		It("drops paths that are not plain device names", func() {
			devices := mapper.Reconcile(
				[]string{"/dev/disk/by-id/google-ephemeral-disk-0", "/dev/sdb1"},
				metadata.NewInventory("sdb", "xvdb"),
			)
			Expect(devices).To(BeEmpty())
		})

		It("drops everything against an empty inventory", func() {
			devices := mapper.Reconcile([]string{"/dev/sdb", "/dev/xvdc"}, nil)
			Expect(devices).To(BeEmpty())
		})
	})

	Context("with several devices", func() {
		It("preserves input order of the survivors", func() {
			devices := mapper.Reconcile(
				[]string{"/dev/sdd", "/dev/sdb", "/dev/sdz", "/dev/xvdc"},
				metadata.NewInventory("xvdb", "xvdc", "sdd"),
			)
			Expect(devices).To(Equal([]string{"/dev/sdd", "/dev/xvdb", "/dev/xvdc"}))
		})

		It("reports an outcome per device", func() {
			resolutions := mapper.Resolve(
				[]string{"/dev/sdb", "/dev/sdc", "/dev/sdd"},
				metadata.NewInventory("sdb", "xvdc"),
			)
			Expect(resolutions).To(Equal([]Resolution{
				{Original: "/dev/sdb", Path: "/dev/sdb", Outcome: OutcomeKept},
				{Original: "/dev/sdc", Path: "/dev/xvdc", Outcome: OutcomeRemapped},
				{Original: "/dev/sdd", Outcome: OutcomeDropped},
			}))
			Expect(Paths(resolutions)).To(Equal([]string{"/dev/sdb", "/dev/xvdc"}))
			Expect(Dropped(resolutions)).To(Equal([]string{"/dev/sdd"}))
		})
	})

	Describe("ForHypervisor", func() {
		It("passes devices through for non xen guests", func() {
			devices := mapper.ForHypervisor(metadata.HypervisorOther, []string{"/dev/sdc"}, metadata.NewInventory("sdb"))
			Expect(devices).To(Equal([]string{"/dev/sdc"}))
			Expect(logs.String()).To(BeEmpty())
		})

		It("reconciles devices for xen guests", func() {
			devices := mapper.ForHypervisor(metadata.HypervisorXen, []string{"/dev/sdb"}, metadata.NewInventory("xvdb"))
			Expect(devices).To(Equal([]string{"/dev/xvdb"}))
		})
	})

	Describe("ResolveForHypervisor", func() {
		It("skips reconciliation for non xen guests", func() {
			resolutions, ok := mapper.ResolveForHypervisor(metadata.HypervisorOther, []string{"/dev/sdc"}, metadata.NewInventory())
			Expect(ok).To(BeFalse())
			Expect(resolutions).To(BeNil())
			Expect(logs.String()).To(BeEmpty())
		})

		It("resolves every device for xen guests", func() {
			resolutions, ok := mapper.ResolveForHypervisor(metadata.HypervisorXen, []string{"/dev/sdb", "/dev/sdc"}, metadata.NewInventory("xvdb"))
			Expect(ok).To(BeTrue())
			Expect(resolutions).To(Equal([]Resolution{
				{Original: "/dev/sdb", Path: "/dev/xvdb", Outcome: OutcomeRemapped},
				{Original: "/dev/sdc", Outcome: OutcomeDropped},
			}))
			Expect(logs.String()).To(ContainSubstring("mapping for ephemeral devices"))
		})
	})

	Describe("BaseName", func() {
		It("extracts the kernel name", func() {
			Expect(BaseName("/dev/xvdb")).To(Equal("xvdb"))
			Expect(BaseName("/dev/disk/by-id/google-ephemeral-disk-0")).To(Equal(""))
			Expect(BaseName("not even a device")).To(Equal(""))
		})
	})
})
