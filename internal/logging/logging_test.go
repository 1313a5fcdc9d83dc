//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/rs/zerolog"

	"github.com/joe/dirmover/internal/logging"
)

func TestJSONOutputCarriesFields(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var out bytes.Buffer
	logger, closer, err := logging.New(logging.Options{Level: zerolog.InfoLevel, JSON: true, Out: &out})
	g.Expect(err).ShouldNot(HaveOccurred())
	defer closer.Close()

	componentLogger := logging.Component(logger, "migrate")
	componentLogger.Info().Str("op", "abc").Uint64("bytes", 42).Msg("copied")
	logger.Debug().Msg("hidden")

	var record map[string]any
	g.Expect(json.Unmarshal(out.Bytes(), &record)).Should(Succeed())
	g.Expect(record).Should(HaveKeyWithValue("component", "migrate"))
	g.Expect(record).Should(HaveKeyWithValue("op", "abc"))
	g.Expect(record).Should(HaveKeyWithValue("bytes", BeNumerically("==", 42)))
	g.Expect(record).Should(HaveKey("time"))
	g.Expect(out.String()).ShouldNot(ContainSubstring("hidden"))
}

func TestConsoleOutput(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var out bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: zerolog.DebugLevel, Out: &out, NoColor: true})
	g.Expect(err).ShouldNot(HaveOccurred())

	logger.Debug().Str("path", "/data").Msg("scanning")

	g.Expect(out.String()).Should(ContainSubstring("DBG"))
	g.Expect(out.String()).Should(ContainSubstring("scanning"))
	g.Expect(out.String()).Should(ContainSubstring("path=/data"))
}

func TestLogFileReceivesCopy(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	file := filepath.Join(t.TempDir(), "logs", "dirmover.log")
	var out bytes.Buffer
	logger, closer, err := logging.New(logging.Options{Level: zerolog.InfoLevel, Out: &out, File: file, NoColor: true})
	g.Expect(err).ShouldNot(HaveOccurred())

	logger.Warn().Msg("disk nearly full")
	g.Expect(closer.Close()).Should(Succeed())

	data, err := os.ReadFile(file)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(strings.TrimSpace(string(data))).Should(HavePrefix("{"))
	g.Expect(string(data)).Should(ContainSubstring(`"message":"disk nearly full"`))
	g.Expect(out.String()).Should(ContainSubstring("disk nearly full"))
}
