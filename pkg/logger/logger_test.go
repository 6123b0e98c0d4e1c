package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/pkg/logger"
)

func decodeLines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		Expect(dec.Decode(&rec)).To(Succeed())
		out = append(out, rec)
	}
	return out
}

var _ = Describe("Logger", func() {
	var buf *bytes.Buffer

	BeforeEach(func() {
		buf = &bytes.Buffer{}
	})

	Describe("DefaultConfig", func() {
		It("should log JSON at info to stdout", func() {
			cfg := logger.DefaultConfig()
			Expect(cfg.Level).To(Equal(slog.LevelInfo))
			Expect(cfg.Format).To(Equal(logger.FormatJSON))
			Expect(cfg.Output).To(Equal(os.Stdout))
			Expect(cfg.AddSource).To(BeFalse())
			Expect(cfg.File).To(BeNil())
		})

		It("should be used when New receives nil", func() {
			log := logger.New(nil)
			Expect(log.Enabled(context.Background(), slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(context.Background(), slog.LevelDebug)).To(BeFalse())
		})
	})

	Describe("JSON records", func() {
		It("should carry component attributes added with With", func() {
			log := logger.New(&logger.Config{Level: slog.LevelDebug, Output: buf})
			log.With("component", "dispatcher").Info("notification sent",
				"alert_id", 7,
				"recipient", "+5511999990001")

			recs := decodeLines(buf)
			Expect(recs).To(HaveLen(1))
			Expect(recs[0]).To(HaveKeyWithValue("level", "INFO"))
			Expect(recs[0]).To(HaveKeyWithValue("msg", "notification sent"))
			Expect(recs[0]).To(HaveKeyWithValue("component", "dispatcher"))
			Expect(recs[0]).To(HaveKeyWithValue("alert_id", BeNumerically("==", 7)))
			Expect(recs[0]).To(HaveKey("time"))
		})

		It("should add the source position when asked", func() {
			log := logger.New(&logger.Config{Level: slog.LevelInfo, Output: buf, AddSource: true})
			log.Info("with source")

			recs := decodeLines(buf)
			Expect(recs[0]).To(HaveKey("source"))
		})
	})

	DescribeTable("level filtering",
		func(level slog.Level, want []string) {
			log := logger.New(&logger.Config{Level: level, Output: buf})
			log.Debug("debug")
			log.Info("info")
			log.Warn("warn")
			log.Error("error")

			var got []string
			for _, rec := range decodeLines(buf) {
				got = append(got, rec["msg"].(string))
			}
			Expect(got).To(Equal(want))
		},
		Entry("debug", slog.LevelDebug, []string{"debug", "info", "warn", "error"}),
		Entry("info", slog.LevelInfo, []string{"info", "warn", "error"}),
		Entry("warn", slog.LevelWarn, []string{"warn", "error"}),
		Entry("error", slog.LevelError, []string{"error"}),
	)

	DescribeTable("ParseLevel",
		func(in string, want slog.Level) {
			Expect(logger.ParseLevel(in)).To(Equal(want))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("upper case", "INFO", slog.LevelInfo),
		Entry("warning alias", "warning", slog.LevelWarn),
		Entry("padded", "  error ", slog.LevelError),
		Entry("unknown falls back to info", "verbose", slog.LevelInfo),
		Entry("empty falls back to info", "", slog.LevelInfo),
	)

	Describe("NewWithLevel", func() {
		It("should only change the level", func() {
			log := logger.NewWithLevel(slog.LevelWarn)
			Expect(log.Enabled(context.Background(), slog.LevelInfo)).To(BeFalse())
			Expect(log.Enabled(context.Background(), slog.LevelWarn)).To(BeTrue())
		})
	})

	Describe("Format", func() {
		It("should parse text case-insensitively and default to json", func() {
			Expect(logger.ParseFormat("TEXT")).To(Equal(logger.FormatText))
			Expect(logger.ParseFormat("json")).To(Equal(logger.FormatJSON))
			Expect(logger.ParseFormat("logfmt")).To(Equal(logger.FormatJSON))
		})

		It("should write key=value records with the text handler", func() {
			log := logger.New(&logger.Config{Level: slog.LevelInfo, Output: buf, Format: logger.FormatText})
			log.Info("sweep finished", "sent", 3)

			Expect(buf.String()).To(ContainSubstring("msg=\"sweep finished\""))
			Expect(buf.String()).To(ContainSubstring("sent=3"))
		})
	})

	Describe("File output", func() {
		It("should duplicate records into the rotated file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "server.log")
			log, cleanup := logger.NewWithCleanup(&logger.Config{
				Level:  slog.LevelInfo,
				Output: buf,
				File:   &logger.FileConfig{Path: path, MaxSizeMB: 1},
			})
			log.Info("persisted")
			cleanup()

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("persisted"))
			Expect(buf.String()).To(ContainSubstring("persisted"))
		})

		It("should return a no-op cleanup without a file", func() {
			_, cleanup := logger.NewWithCleanup(&logger.Config{Output: buf})
			Expect(cleanup).NotTo(Panic())
		})
	})

	Describe("Discard", func() {
		It("should drop error records", func() {
			Expect(logger.Discard().Enabled(context.Background(), slog.LevelError)).To(BeFalse())
		})
	})
})
