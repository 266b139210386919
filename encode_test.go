package haven

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	type Scalars struct {
		Debug   bool          `haven:"debug"`
		Port    int           `haven:"port"`
		LR      float64       `haven:"lr"`
		Host    string        `haven:"host"`
		Timeout time.Duration `haven:"timeout"`
		Start   time.Time     `haven:"start"`
	}
	cfg := &Scalars{
		Debug:   true,
		Port:    8080,
		LR:      0.5,
		Host:    "example.com",
		Timeout: 90 * time.Second,
		Start:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	tree, err := Encode(cfg, WithRegistry(NewRegistry()))
	require.NoError(t, err)

	assert.Equal(t, true, tree["debug"])
	assert.Equal(t, int64(8080), tree["port"])
	assert.Equal(t, 0.5, tree["lr"])
	assert.Equal(t, "example.com", tree["host"])
	// Durations and times dump as their text forms.
	assert.Equal(t, "1m30s", tree["timeout"])
	assert.Equal(t, "2025-06-01T12:00:00Z", tree["start"])
}

func TestEncodeOptionalPolicy(t *testing.T) {
	type Opt struct {
		Resume *string `haven:"resume"`
		Note   *string `haven:"note"`
	}
	note := "keep"
	cfg := &Opt{Note: &note}

	t.Run("absent optionals dump as explicit nulls", func(t *testing.T) {
		tree, err := Encode(cfg, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		v, present := tree["resume"]
		assert.True(t, present)
		assert.Nil(t, v)
		assert.Equal(t, "keep", tree["note"])
	})

	t.Run("WithOmitAbsent drops them instead", func(t *testing.T) {
		tree, err := Encode(cfg, WithRegistry(NewRegistry()), WithOmitAbsent())
		require.NoError(t, err)
		_, present := tree["resume"]
		assert.False(t, present)
		assert.Equal(t, "keep", tree["note"])
	})
}

func TestEncodeChoiceDiscriminator(t *testing.T) {
	t.Run("variant dumps with its key field", func(t *testing.T) {
		r := newModelRegistry(t)
		cfg, err := Decode[ExperimentConfig](Tree{
			"name":  "exp1",
			"model": Tree{"name": "GPT2Config", "num_layers": 16},
		}, WithRegistry(r))
		require.NoError(t, err)

		tree, err := Encode(cfg, WithRegistry(r))
		require.NoError(t, err)
		model := tree["model"].(map[string]any)
		assert.Equal(t, "GPT2Config", model["name"])
		assert.Equal(t, int64(16), model["num_layers"])
	})

	t.Run("outer discriminator dumps beside the field", func(t *testing.T) {
		r := newDriverRegistry(t)
		cfg, err := Decode[StorageConfig](Tree{
			"driver_name": "S3Config",
			"driver":      Tree{"bucket": "models"},
		}, WithRegistry(r))
		require.NoError(t, err)

		tree, err := Encode(cfg, WithRegistry(r))
		require.NoError(t, err)
		assert.Equal(t, "S3Config", tree["driver_name"])
		driver := tree["driver"].(map[string]any)
		_, hasInline := driver["driver_name"]
		assert.False(t, hasInline)
		assert.Equal(t, "models", driver["bucket"])
	})

	t.Run("variant outside its group fails", func(t *testing.T) {
		r := newModelRegistry(t)
		cfg := &ExperimentConfig{Name: "exp1", Model: &TinyConfig{Hidden: 1}}
		_, err := Encode(cfg, WithRegistry(r))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownVariant)
	})
}

func TestEncodeRejectsNonRecords(t *testing.T) {
	_, err := Encode(42, WithRegistry(NewRegistry()))
	assert.ErrorIs(t, err, ErrSchema)

	var nilCfg *TrainerConfig
	_, err = Encode(nilCfg, WithRegistry(NewRegistry()))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestRoundTrip(t *testing.T) {
	input := Tree{
		"name": "exp1",
		"model": Tree{
			"name":       "Llama2Config",
			"num_layers": 48,
		},
		"trainer": Tree{
			"max_steps": 5000,
			"lr":        0.3,
		},
	}

	t.Run("dump reloads to a value-equal record", func(t *testing.T) {
		r := newModelRegistry(t)
		first, err := Decode[ExperimentConfig](input, WithRegistry(r))
		require.NoError(t, err)

		tree, err := Encode(first, WithRegistry(r))
		require.NoError(t, err)

		second, err := Decode[ExperimentConfig](tree, WithRegistry(r))
		require.NoError(t, err)
		assert.Equal(t, first, second, spew.Sdump(tree))
	})

	t.Run("a second round trip is a fixed point", func(t *testing.T) {
		r := newModelRegistry(t)
		first, err := Decode[ExperimentConfig](input, WithRegistry(r))
		require.NoError(t, err)

		tree1, err := Encode(first, WithRegistry(r))
		require.NoError(t, err)
		second, err := Decode[ExperimentConfig](tree1, WithRegistry(r))
		require.NoError(t, err)
		tree2, err := Encode(second, WithRegistry(r))
		require.NoError(t, err)

		assert.Equal(t, tree1, tree2, "dump of a reloaded dump should not drift")
	})

	t.Run("unset optional fields survive the trip", func(t *testing.T) {
		type Sweep struct {
			Name   string            `haven:"name"`
			LR     any               `haven:"lr,optional,union=float64|string"`
			Layers []int             `haven:"layers,optional"`
			Env    map[string]string `haven:"env,optional"`
			Extra  any               `haven:"extra,optional"`
		}
		r := NewRegistry()
		first, err := Decode[Sweep](Tree{"name": "exp1"}, WithRegistry(r))
		require.NoError(t, err)
		require.Nil(t, first.LR)
		require.Nil(t, first.Layers)

		tree, err := Encode(first, WithRegistry(r))
		require.NoError(t, err)
		assert.Nil(t, tree["lr"])
		assert.Nil(t, tree["layers"])

		second, err := Decode[Sweep](tree, WithRegistry(r))
		require.NoError(t, err)
		assert.Equal(t, first, second, spew.Sdump(tree))

		// The same holds when the dump drops absent fields instead.
		omitted, err := Encode(first, WithRegistry(r), WithOmitAbsent())
		require.NoError(t, err)
		_, present := omitted["lr"]
		assert.False(t, present)
		third, err := Decode[Sweep](omitted, WithRegistry(r))
		require.NoError(t, err)
		assert.Equal(t, first, third)
	})

	t.Run("collections and unions survive the trip", func(t *testing.T) {
		type Rich struct {
			Betas  [2]float64        `haven:"betas"`
			Layers []int             `haven:"layers"`
			Env    map[string]string `haven:"env"`
			LR     any               `haven:"lr,union=float64|string"`
			Extra  any               `haven:"extra,optional"`
		}
		r := NewRegistry()
		in := Tree{
			"betas":  []any{0.9, 0.999},
			"layers": []any{64, 32},
			"env":    Tree{"MODE": "fast"},
			"lr":     "cosine",
			"extra":  Tree{"free": []any{1, "two"}},
		}
		first, err := Decode[Rich](in, WithRegistry(r))
		require.NoError(t, err)

		tree, err := Encode(first, WithRegistry(r))
		require.NoError(t, err)
		second, err := Decode[Rich](tree, WithRegistry(r))
		require.NoError(t, err)
		assert.Equal(t, first, second, spew.Sdump(tree))
	})
}
