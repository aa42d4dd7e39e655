package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/isasim/isa"
	"github.com/sarchlab/isasim/timing/latency"
)

// buildTimedDescription declares two timing classes; everything else is
// the minimum a description needs to build.
func buildTimedDescription() *isa.Description {
	b := isa.NewBuilder()
	b.AddSizeClass(16)
	b.AddGroup("main")
	b.AddTimingClass("fast")
	b.AddTimingClass("slow")
	nop := b.AddInstruction(isa.Instruction{Name: "nop"})
	b.AddPattern(0, 0, 0, 0, 0, isa.LeafInstr{Instr: nop})

	desc, err := b.Build()
	Expect(err).To(BeNil())
	return desc
}

var _ = Describe("Latency", func() {
	var desc *isa.Description

	BeforeEach(func() {
		desc = buildTimedDescription()
	})

	Describe("Default Timing Values", func() {
		It("should cost one cycle per class", func() {
			table := latency.NewTable(desc)
			Expect(table.Cycles(0)).To(Equal(uint64(1)))
			Expect(table.Cycles(1)).To(Equal(uint64(1)))
			Expect(table.Config().DefaultLatency).To(Equal(uint64(1)))
		})
	})

	Describe("Configured Latencies", func() {
		It("should resolve class names against the config", func() {
			config := latency.DefaultTimingConfig()
			config.ClassLatency["slow"] = 9

			table := latency.NewTableWithConfig(desc, config)
			Expect(table.Cycles(0)).To(Equal(uint64(1)))
			Expect(table.Cycles(1)).To(Equal(uint64(9)))
		})

		It("should fall back to the default for unknown classes", func() {
			config := latency.DefaultTimingConfig()
			config.DefaultLatency = 3

			table := latency.NewTableWithConfig(desc, config)
			Expect(table.Cycles(isa.TimingClassID(99))).To(Equal(uint64(3)))
		})

		It("should ignore config entries no class uses", func() {
			config := latency.DefaultTimingConfig()
			config.ClassLatency["vector"] = 40

			table := latency.NewTableWithConfig(desc, config)
			Expect(table.Cycles(0)).To(Equal(uint64(1)))
			Expect(table.Cycles(1)).To(Equal(uint64(1)))
		})
	})

	Describe("Validation", func() {
		It("should accept the default config", func() {
			Expect(latency.DefaultTimingConfig().Validate()).To(Succeed())
		})

		It("should reject a zero default latency", func() {
			config := latency.DefaultTimingConfig()
			config.DefaultLatency = 0

			err := config.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("default_latency"))
		})

		It("should reject a zero class latency", func() {
			config := latency.DefaultTimingConfig()
			config.ClassLatency["slow"] = 0

			err := config.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(`"slow"`))
		})
	})

	Describe("Clone", func() {
		It("should not share the class map", func() {
			config := latency.DefaultTimingConfig()
			config.ClassLatency["slow"] = 9

			clone := config.Clone()
			clone.ClassLatency["slow"] = 2
			clone.ClassLatency["fast"] = 5

			Expect(config.ClassLatency).To(HaveLen(1))
			Expect(config.ClassLatency["slow"]).To(Equal(uint64(9)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.DefaultLatency = 2
			original.ClassLatency["slow"] = 9

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.DefaultLatency).To(Equal(uint64(2)))
			Expect(loaded.ClassLatency["slow"]).To(Equal(uint64(9)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig(filepath.Join(tempDir, "missing.json"))
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
