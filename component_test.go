package haven

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Optimizer fixtures: variants registered as constructor functions, so the
// choice field is a Component coupling config and constructor.

type SGDConfig struct {
	LR       float64 `haven:"lr,default=0.1"`
	Momentum float64 `haven:"momentum,default=0.9"`
}

type AdamConfig struct {
	LR    float64    `haven:"lr,default=0.001"`
	Betas [2]float64 `haven:"betas,default=[0.9, 0.999]"`
}

type sgdOptimizer struct{ cfg SGDConfig }

type adamOptimizer struct{ cfg AdamConfig }

func newSGD(cfg SGDConfig) *sgdOptimizer { return &sgdOptimizer{cfg} }

func newAdam(cfg *AdamConfig, seed int) (*adamOptimizer, error) {
	if seed < 0 {
		return nil, errors.New("seed must be non-negative")
	}
	return &adamOptimizer{cfg: *cfg}, nil
}

type TrainConfig struct {
	Optimizer Component `haven:"optimizer,choice=optimizers,default=sgd"`
}

func newOptimizerRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.AddGroup("optimizers", Named(map[string]any{
		"sgd":  newSGD,
		"adam": newAdam,
	})))
	return r
}

func TestComponentResolution(t *testing.T) {
	t.Run("variant identity and config retained", func(t *testing.T) {
		cfg, err := Decode[TrainConfig](Tree{
			"optimizer": Tree{"name": "adam", "lr": 0.01},
		}, WithRegistry(newOptimizerRegistry(t)))
		require.NoError(t, err)

		assert.Equal(t, "adam", cfg.Optimizer.Name)
		adam, ok := cfg.Optimizer.Config.(*AdamConfig)
		require.True(t, ok)
		assert.Equal(t, 0.01, adam.LR)
		assert.Equal(t, [2]float64{0.9, 0.999}, adam.Betas)
		assert.True(t, cfg.Optimizer.Callable())
	})

	t.Run("default variant fills the component", func(t *testing.T) {
		cfg, err := Decode[TrainConfig](Tree{}, WithRegistry(newOptimizerRegistry(t)))
		require.NoError(t, err)
		assert.Equal(t, "sgd", cfg.Optimizer.Name)
		assert.Equal(t, 0.1, cfg.Optimizer.Config.(*SGDConfig).LR)
	})
}

func TestComponentCall(t *testing.T) {
	t.Run("constructor invoked with the config first", func(t *testing.T) {
		cfg, err := Decode[TrainConfig](Tree{
			"optimizer": Tree{"name": "sgd", "lr": 0.5},
		}, WithRegistry(newOptimizerRegistry(t)))
		require.NoError(t, err)

		inst, err := cfg.Optimizer.Call()
		require.NoError(t, err)
		sgd, ok := inst.(*sgdOptimizer)
		require.True(t, ok)
		assert.Equal(t, 0.5, sgd.cfg.LR)
	})

	t.Run("extra arguments forwarded, error result split off", func(t *testing.T) {
		cfg, err := Decode[TrainConfig](Tree{
			"optimizer": "adam",
		}, WithRegistry(newOptimizerRegistry(t)))
		require.NoError(t, err)

		inst, err := cfg.Optimizer.Call(7)
		require.NoError(t, err)
		assert.Equal(t, 0.001, inst.(*adamOptimizer).cfg.LR)

		_, err = cfg.Optimizer.Call(-1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-negative")
	})

	t.Run("wrong arity reported", func(t *testing.T) {
		cfg, err := Decode[TrainConfig](Tree{"optimizer": "adam"}, WithRegistry(newOptimizerRegistry(t)))
		require.NoError(t, err)
		_, err = cfg.Optimizer.Call()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "argument")
	})

	t.Run("zero component cannot be called", func(t *testing.T) {
		var c Component
		assert.False(t, c.Callable())
		_, err := c.Call()
		assert.Error(t, err)
	})
}

func TestComponentRoundTrip(t *testing.T) {
	r := newOptimizerRegistry(t)
	cfg, err := Decode[TrainConfig](Tree{
		"optimizer": Tree{"name": "adam", "lr": 0.02},
	}, WithRegistry(r))
	require.NoError(t, err)

	tree, err := Encode(cfg, WithRegistry(r))
	require.NoError(t, err)
	opt := tree["optimizer"].(map[string]any)
	assert.Equal(t, "adam", opt["name"])
	assert.Equal(t, 0.02, opt["lr"])

	back, err := Decode[TrainConfig](tree, WithRegistry(r))
	require.NoError(t, err)
	assert.Equal(t, cfg.Optimizer.Name, back.Optimizer.Name)
	assert.Equal(t, cfg.Optimizer.Config, back.Optimizer.Config)
}
