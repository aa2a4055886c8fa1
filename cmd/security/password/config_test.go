package password

import "testing"

func TestCheck_Defaults(t *testing.T) {
	if err := DefaultConfig().Check(); err != nil {
		t.Fatalf("default config must pass Check: %v", err)
	}
}

func TestCheck_Override(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 10
	cfg.Policy.MaxLength = 200
	cfg.Params.MemoryKiB = 32768
	cfg.Params.Iterations = 4
	cfg.Params.Parallelism = 2
	cfg.Params.SaltLength = 24

	if err := cfg.Check(); err != nil {
		t.Fatalf("Check error: %v", err)
	}
}

func TestCheck_Invalid(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"min greater than max", func(c *Config) { c.Policy.MinLength = 20; c.Policy.MaxLength = 10 }},
		{"memory too small", func(c *Config) { c.Params.MemoryKiB = 1024 }},
		{"zero iterations", func(c *Config) { c.Params.Iterations = 0 }},
		{"zero parallelism", func(c *Config) { c.Params.Parallelism = 0 }},
		{"salt too short", func(c *Config) { c.Params.SaltLength = 4 }},
		{"key too long", func(c *Config) { c.Params.KeyLength = 128 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			if err := cfg.Check(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
