package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrecedence(t *testing.T) {
	old := Env
	defer func() { Env = old }()
	Env = map[string]string{"APP_NAME": "from-file"}

	assert.Equal(t, "from-file", GetEnv("APP_NAME", "def"))

	t.Setenv("APP_NAME", "from-process")
	assert.Equal(t, "from-process", GetEnv("APP_NAME", "def"))

	assert.Equal(t, "def", GetEnv("MISSING_KEY", "def"))
}

func TestGetEnvInt(t *testing.T) {
	old := Env
	defer func() { Env = old }()
	Env = map[string]string{
		"WORKERS":  "8",
		"BAD":      "not-a-number",
		"NEGATIVE": "-3",
	}

	assert.Equal(t, 8, GetEnvInt("WORKERS", 5))
	assert.Equal(t, 5, GetEnvInt("BAD", 5))
	assert.Equal(t, 5, GetEnvInt("NEGATIVE", 5))
	assert.Equal(t, 5, GetEnvInt("ABSENT", 5))
}
