package main_test

import (
	"bytes"
	"os"
	"path/filepath"

	main "github.com/alexandreLamarre/lockstate/cmd/dlockctl"
	"github.com/alexandreLamarre/lockstate/pkg/constants"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := main.BuildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	GinkgoWriter.Write(errOut.Bytes())
	return out.String(), err
}

var _ = Describe("dlockctl", Label("unit"), func() {
	It("should list the registered backends", func() {
		out, err := run("backends")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(constants.LocalLockManager))
		Expect(out).To(ContainSubstring(constants.CooperativeLockManager))
	})

	for _, backend := range []string{constants.LocalLockManager, constants.CooperativeLockManager} {
		backend := backend
		It("should certify the "+backend+" backend", func() {
			out, err := run("check", "--backend", backend, "--workers", "3", "--hold", "20ms", "--verbose")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("3 workers holding 'test'"))
		})
	}

	It("should read the run parameters from a config file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "check.toml")
		Expect(os.WriteFile(path, []byte(`
backend = "cooperative"
resourceId = "from-config"
workers = 2
hold = "10ms"
`), 0o644)).To(Succeed())
		out, err := run("check", "--config", path, "--workers", "4")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("4 workers holding 'from-config'"))
	})

	It("should fail the run when the bound is too tight", func() {
		_, err := run("check", "--workers", "3", "--hold", "50ms", "--bound", "60ms")
		Expect(err).To(HaveOccurred())
	})

	It("should print spans when tracing", func() {
		_, err := run("check", "--workers", "1", "--hold", "1ms", "--trace")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject unknown backends", func() {
		_, err := run("check", "--backend", "etcd")
		Expect(err).To(MatchError(ContainSubstring("unknown lock backend 'etcd'")))
	})

	It("should reject unknown log levels", func() {
		_, err := run("--log-level", "loud", "backends")
		Expect(err).To(MatchError(ContainSubstring("invalid log level 'loud'")))
	})
})
