package haven

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceScalars(t *testing.T) {
	type Scalars struct {
		Debug   bool          `haven:"debug"`
		Port    int           `haven:"port"`
		Seed    uint32        `haven:"seed"`
		LR      float64       `haven:"lr"`
		Host    string        `haven:"host"`
		Timeout time.Duration `haven:"timeout"`
		Token   []byte        `haven:"token"`
	}

	t.Run("matching kinds", func(t *testing.T) {
		cfg, err := Decode[Scalars](Tree{
			"debug":   true,
			"port":    8080,
			"seed":    42,
			"lr":      0.5,
			"host":    "example.com",
			"timeout": "250ms",
			"token":   "secret",
		}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.True(t, cfg.Debug)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, uint32(42), cfg.Seed)
		assert.Equal(t, 0.5, cfg.LR)
		assert.Equal(t, "example.com", cfg.Host)
		assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
		assert.Equal(t, []byte("secret"), cfg.Token)
	})

	t.Run("integer widens to float", func(t *testing.T) {
		type F struct {
			LR float64 `haven:"lr"`
		}
		cfg, err := Decode[F](Tree{"lr": 1}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, 1.0, cfg.LR)
	})

	t.Run("float never truncates to int", func(t *testing.T) {
		type I struct {
			Steps int `haven:"steps"`
		}
		_, err := Decode[I](Tree{"steps": 1.5}, WithRegistry(NewRegistry()))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("string not accepted for numbers, numbers not for strings", func(t *testing.T) {
		type S struct {
			Port int    `haven:"port,optional"`
			Name string `haven:"name,optional"`
		}
		_, err := Decode[S](Tree{"port": "8080"}, WithRegistry(NewRegistry()))
		assert.ErrorIs(t, err, ErrTypeMismatch)
		_, err = Decode[S](Tree{"name": 7}, WithRegistry(NewRegistry()))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("negative value rejected for unsigned", func(t *testing.T) {
		type U struct {
			Seed uint `haven:"seed"`
		}
		_, err := Decode[U](Tree{"seed": -1}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "negative")
	})

	t.Run("out-of-range integer rejected", func(t *testing.T) {
		type B struct {
			Level int8 `haven:"level"`
		}
		_, err := Decode[B](Tree{"level": 1000}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("duration accepts integer nanoseconds", func(t *testing.T) {
		type D struct {
			Timeout time.Duration `haven:"timeout"`
		}
		cfg, err := Decode[D](Tree{"timeout": 1500000000}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	})

	t.Run("invalid duration string", func(t *testing.T) {
		type D struct {
			Timeout time.Duration `haven:"timeout"`
		}
		_, err := Decode[D](Tree{"timeout": "soon"}, WithRegistry(NewRegistry()))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestCoerceTextUnmarshaler(t *testing.T) {
	type Timed struct {
		Start time.Time `haven:"start"`
	}

	t.Run("valid text", func(t *testing.T) {
		cfg, err := Decode[Timed](Tree{"start": "2025-06-01T12:00:00Z"}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), cfg.Start)
	})

	t.Run("invalid text", func(t *testing.T) {
		_, err := Decode[Timed](Tree{"start": "yesterday"}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "start")
	})
}

func TestCoerceOptional(t *testing.T) {
	type Opt struct {
		Resume *string `haven:"resume"`
	}

	t.Run("null yields nil", func(t *testing.T) {
		cfg, err := Decode[Opt](Tree{"resume": nil}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Nil(t, cfg.Resume)
	})

	t.Run("absent yields nil", func(t *testing.T) {
		cfg, err := Decode[Opt](Tree{}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Nil(t, cfg.Resume)
	})

	t.Run("present value coerces to the element type", func(t *testing.T) {
		cfg, err := Decode[Opt](Tree{"resume": "ckpt-9"}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		require.NotNil(t, cfg.Resume)
		assert.Equal(t, "ckpt-9", *cfg.Resume)
	})

	t.Run("wrong element shape still fails", func(t *testing.T) {
		_, err := Decode[Opt](Tree{"resume": 5}, WithRegistry(NewRegistry()))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestCoerceUnion(t *testing.T) {
	type Sched struct {
		LR any `haven:"lr,union=float64|string"`
	}

	t.Run("matching alternative chosen", func(t *testing.T) {
		cfg, err := Decode[Sched](Tree{"lr": 0.1}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, 0.1, cfg.LR)

		cfg, err = Decode[Sched](Tree{"lr": "cosine"}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, "cosine", cfg.LR)
	})

	t.Run("no alternative matches", func(t *testing.T) {
		_, err := Decode[Sched](Tree{"lr": true}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrNoUnionMatch)
		assert.Contains(t, err.Error(), "lr")
	})

	t.Run("first declared alternative wins", func(t *testing.T) {
		// An integer fits both int and float64; declaration order decides.
		type Both struct {
			V any `haven:"v,union=int|float64"`
		}
		cfg, err := Decode[Both](Tree{"v": 3}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.V)

		type Flipped struct {
			V any `haven:"v,union=float64|int"`
		}
		flipped, err := Decode[Flipped](Tree{"v": 3}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, 3.0, flipped.V)
	})

	t.Run("strict mode flags ambiguity", func(t *testing.T) {
		type Both struct {
			V any `haven:"v,union=int|float64"`
		}
		_, err := Decode[Both](Tree{"v": 3}, WithRegistry(NewRegistry()), WithStrictUnions())
		assert.ErrorIs(t, err, ErrAmbiguousUnion)

		// Unambiguous values still pass under strict matching.
		cfg, err := Decode[Both](Tree{"v": 2.5}, WithRegistry(NewRegistry()), WithStrictUnions())
		require.NoError(t, err)
		assert.Equal(t, 2.5, cfg.V)
	})

	t.Run("record alternative matched by full materialization", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.AddTypes(GitConfig{}))
		type Owner struct {
			Author any `haven:"author,union=string|GitConfig"`
		}
		cfg, err := Decode[Owner](Tree{
			"author": Tree{"name": "Alice", "email": "alice@example.com"},
		}, WithRegistry(r))
		require.NoError(t, err)
		git, ok := cfg.Author.(GitConfig)
		require.True(t, ok)
		assert.Equal(t, "Alice", git.Name)
	})
}

func TestCoerceSequence(t *testing.T) {
	type Seq struct {
		Layers []int `haven:"layers"`
	}

	t.Run("element-wise, order preserved", func(t *testing.T) {
		cfg, err := Decode[Seq](Tree{"layers": []any{64, 32, 16}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, []int{64, 32, 16}, cfg.Layers)
	})

	t.Run("empty input yields empty non-nil slice", func(t *testing.T) {
		cfg, err := Decode[Seq](Tree{"layers": []any{}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.NotNil(t, cfg.Layers)
		assert.Len(t, cfg.Layers, 0)
	})

	t.Run("bad element reports its index", func(t *testing.T) {
		_, err := Decode[Seq](Tree{"layers": []any{64, "wide", 16}}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "layers[1]")
	})

	t.Run("non-sequence node rejected", func(t *testing.T) {
		_, err := Decode[Seq](Tree{"layers": 64}, WithRegistry(NewRegistry()))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestCoerceTuple(t *testing.T) {
	type Tup struct {
		Betas [2]float64 `haven:"betas"`
	}

	t.Run("exact arity", func(t *testing.T) {
		cfg, err := Decode[Tup](Tree{"betas": []any{0.9, 0.999}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, [2]float64{0.9, 0.999}, cfg.Betas)
	})

	t.Run("wrong arity rejected", func(t *testing.T) {
		_, err := Decode[Tup](Tree{"betas": []any{0.9}}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "expected 2 elements")
	})
}

func TestCoerceMapping(t *testing.T) {
	t.Run("string keys", func(t *testing.T) {
		type M struct {
			Env map[string]string `haven:"env"`
		}
		cfg, err := Decode[M](Tree{"env": Tree{"HOME": "/root", "SHELL": "sh"}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"HOME": "/root", "SHELL": "sh"}, cfg.Env)
	})

	t.Run("integer keys parsed from text", func(t *testing.T) {
		type M struct {
			Stages map[int]string `haven:"stages"`
		}
		cfg, err := Decode[M](Tree{"stages": Tree{"1": "warmup", "2": "train"}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, map[int]string{1: "warmup", 2: "train"}, cfg.Stages)
	})

	t.Run("bad integer key rejected", func(t *testing.T) {
		type M struct {
			Stages map[int]string `haven:"stages"`
		}
		_, err := Decode[M](Tree{"stages": Tree{"one": "warmup"}}, WithRegistry(NewRegistry()))
		require.ErrorIs(t, err, ErrTypeMismatch)
		assert.Contains(t, err.Error(), "one")
	})

	t.Run("record values recurse", func(t *testing.T) {
		type M struct {
			Remotes map[string]GitConfig `haven:"remotes"`
		}
		cfg, err := Decode[M](Tree{"remotes": Tree{
			"origin": Tree{"name": "Alice", "email": "a@x"},
		}}, WithRegistry(NewRegistry()))
		require.NoError(t, err)
		assert.Equal(t, "Alice", cfg.Remotes["origin"].Name)
	})
}

func TestCoerceAnyDoesNotAlias(t *testing.T) {
	type Raw struct {
		Extra any `haven:"extra"`
	}
	src := Tree{"extra": Tree{"nested": []any{1, 2}}}
	cfg, err := Decode[Raw](src, WithRegistry(NewRegistry()))
	require.NoError(t, err)

	src["extra"].(Tree)["nested"].([]any)[0] = 99

	stored := cfg.Extra.(map[string]any)["nested"].([]any)
	assert.Equal(t, 1, stored[0])
}
