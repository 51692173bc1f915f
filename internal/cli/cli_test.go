package cli

import (
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cnclabs/transx/internal/models/transe"
	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/vecmath"
)

func parse(t *testing.T, args ...string) (*Flags, *BootstrapFlags) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := Register(fs)
	b := RegisterBootstrap(f)
	require.NoError(t, fs.Parse(args))
	return f, b
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const triples = `alice	knows	bob
bob	knows	carol
carol	knows	dave
dave	likes	alice
alice	likes	carol
bob	likes	dave
`

func TestResolveRequiresInputAndOutput(t *testing.T) {
	f, _ := parse(t)
	_, err := f.Resolve()
	assert.True(t, errors.Is(err, ErrUsage))

	f, _ = parse(t, "-train", "kg.txt")
	_, err = f.Resolve()
	assert.True(t, errors.Is(err, ErrUsage))

	f, _ = parse(t, "-train", "kg.txt", "-save_entity", "e.txt")
	_, err = f.Resolve()
	assert.True(t, errors.Is(err, ErrUsage), "relation file missing")

	f, _ = parse(t, "-train", "kg.txt", "-bolt", "runs.db")
	file, err := f.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "runs.db", file.Bolt)
}

func TestResolveWithoutConfigAppliesFlags(t *testing.T) {
	f, _ := parse(t, "-train", "kg.txt", "-save_dir", "out", "-dimensions", "20", "-norm", "1", "-policy", "bern")
	file, err := f.Resolve()
	require.NoError(t, err)

	h, err := file.Hyperparameters()
	require.NoError(t, err)
	assert.Equal(t, 20, h.Dim)
	assert.Equal(t, vecmath.L1, h.Norm)
	assert.Equal(t, config.Default().Training.Epochs, h.Epochs)
}

func TestExplicitFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "run.yaml", `
train: from-config.txt
save_dir: out
training:
  dimensions: 64
  epochs: 7
transr:
  transe_epochs: 3
`)
	f, b := parse(t, "-config", cfg, "-epochs", "9", "-transe_entity", "ent.txt")
	file, err := f.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "from-config.txt", file.Train)
	assert.Equal(t, 64, file.Training.Dimensions, "unset flag keeps the config value")
	assert.Equal(t, 9, file.Training.Epochs, "explicit flag wins")

	b.Apply(f, &file.TransR.Bootstrap)
	assert.Equal(t, "ent.txt", file.TransR.Entity)
	assert.Equal(t, 3, file.TransR.Epochs, "unset flag keeps the config value")

	assert.True(t, f.Overrides("epochs"))
	assert.False(t, f.Overrides("dimensions"))
}

func TestEndToEndRun(t *testing.T) {
	dir := t.TempDir()
	kg := writeFile(t, dir, "kg.txt", triples)
	dev := writeFile(t, dir, "dev.txt", "alice\tknows\tbob\nzed\tknows\tbob\n")
	out := filepath.Join(dir, "out")
	db := filepath.Join(dir, "runs.db")

	f, _ := parse(t, "-train", kg, "-dev", dev, "-save_dir", out, "-bolt", db,
		"-dimensions", "4", "-epochs", "3", "-batch_size", "2")
	r, err := Setup("TransE", f)
	require.NoError(t, err)
	r.out = io.Discard
	r.Ctx.Reporter = nil

	assert.Equal(t, 4, r.Data.NumEntities)
	assert.Len(t, r.Data.Dev, 1, "unknown dev entity skipped")
	require.Len(t, r.Sinks, 2)

	summary, err := r.Train(transe.New())
	require.NoError(t, err)
	assert.Len(t, summary.Losses, 3)
	r.Summary()
	require.NoError(t, r.Close())

	assert.FileExists(t, filepath.Join(out, "transe_entity.txt"))
	assert.FileExists(t, filepath.Join(out, "transe_relation.txt"))
	assert.FileExists(t, db)
}

func TestPretrainFromFiles(t *testing.T) {
	dir := t.TempDir()
	kg := writeFile(t, dir, "kg.txt", triples)
	f, _ := parse(t, "-train", kg, "-save_dir", dir, "-dimensions", "2", "-batch_size", "2")
	r, err := Setup("TransR", f)
	require.NoError(t, err)
	defer r.Close()
	r.out = io.Discard

	ent := writeFile(t, dir, "ent.txt", "4 2\nalice 1 0\nbob 0 1\ncarol 1 0\ndave 0 1\n")
	rel := writeFile(t, dir, "rel.txt", "2 2\nknows 1 0\nlikes 0 1\n")

	pre, err := r.Pretrain(config.Bootstrap{Entity: ent, Relation: rel})
	require.NoError(t, err)
	require.NotNil(t, pre)
	assert.Equal(t, []float64{0, 1}, pre.Entities.Row(r.Graph.EntityHash["bob"]))

	_, err = r.Pretrain(config.Bootstrap{Entity: ent})
	assert.True(t, errors.Is(err, ErrUsage))

	pre, err = r.Pretrain(config.Bootstrap{})
	require.NoError(t, err)
	assert.Nil(t, pre)

	pre, err = r.Pretrain(config.Bootstrap{Epochs: 2})
	require.NoError(t, err)
	require.NotNil(t, pre)
	assert.Equal(t, 4, pre.Entities.Rows())
}

func TestServeMetrics(t *testing.T) {
	srv, err := ServeMetrics("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	defer srv.Close()
	srv.Trainer.ObserveBatch("TransE", 3)

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `transx_batches_total{model="TransE"} 1`)
	assert.Contains(t, string(body), `transx_updates_total{model="TransE"} 3`)
}

func TestReadUsage(t *testing.T) {
	u, err := ReadUsage()
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	assert.Greater(t, u.RSS, uint64(0))
}

func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		l, err := NewLogger(verbose)
		require.NoError(t, err)
		assert.Equal(t, verbose, l.Core().Enabled(zap.DebugLevel))
	}
}

func TestBanner(t *testing.T) {
	var sb strings.Builder
	Banner(&sb, "TransR")
	lines := strings.Split(sb.String(), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, lines[0], lines[2])
	assert.Equal(t, "  TransR", lines[1])
	assert.Empty(t, lines[3])
}
