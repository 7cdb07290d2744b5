package v1alpha1_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/config/v1alpha1"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Conformance config", Label("unit"), func() {
	When("decoding JSON", func() {
		It("should parse durations and scalar fields", func() {
			config, err := v1alpha1.Decode([]byte(`{
				"backend": "cooperative",
				"resourceId": "shared",
				"workers": 3,
				"hold": "250ms",
				"bound": "2s",
				"verbose": true
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Backend).To(Equal("cooperative"))
			Expect(config.ResourceID).To(Equal("shared"))
			Expect(config.Workers).To(Equal(3))
			Expect(config.Hold.Duration).To(Equal(250 * time.Millisecond))
			Expect(config.Bound.Duration).To(Equal(2 * time.Second))
			Expect(config.Verbose).To(BeTrue())
		})
	})

	When("decoding TOML", func() {
		It("should fall back to TOML when the input is not JSON", func() {
			config, err := v1alpha1.Decode([]byte(`
backend = "local"
workers = 5
hold = "1s"
metricsAddr = "127.0.0.1:9999"
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Backend).To(Equal("local"))
			Expect(config.Workers).To(Equal(5))
			Expect(config.Hold.Duration).To(Equal(time.Second))
			Expect(config.Bound).To(BeNil())
			Expect(config.MetricsAddr).To(Equal("127.0.0.1:9999"))
		})
	})

	It("should report both decoding errors for garbage input", func() {
		_, err := v1alpha1.Decode([]byte("{{ not a config"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("JSON"))
		Expect(err.Error()).To(ContainSubstring("TOML"))
	})

	It("should reject invalid values", func() {
		_, err := v1alpha1.Decode([]byte(`{"workers": -1}`))
		Expect(err).To(HaveOccurred())
		_, err = v1alpha1.Decode([]byte(`{"bound": "0s"}`))
		Expect(err).To(HaveOccurred())
		_, err = v1alpha1.Decode([]byte(`{"hold": "soon"}`))
		Expect(err).To(HaveOccurred())
	})

	It("should load a config from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.toml")
		Expect(os.WriteFile(path, []byte(`workers = 2`), 0o644)).To(Succeed())
		config, err := v1alpha1.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.Workers).To(Equal(2))
	})
})
