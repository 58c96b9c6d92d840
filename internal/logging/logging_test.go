package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_ParsesLevel(t *testing.T) {
	l := New("prod", "warn")
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}

func TestNew_FallsBackToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, New("prod", "loud").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("dev", "").GetLevel())
}
