package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"regtest/internal/exitcodes"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitcodes.OK, ExitCode(nil))
	assert.Equal(t, exitcodes.Fault, ExitCode(errors.New("disk full")))
	assert.Equal(t, exitcodes.BadArgs, ExitCode(fmt.Errorf("run: %w", BadArgs(errors.New("bad flag")))))
	assert.Equal(t, exitcodes.TestFailed, ExitCode(Exit(exitcodes.TestFailed, nil)))

	assert.True(t, Silent(Exit(exitcodes.TestError, nil)))
	assert.False(t, Silent(BadArgs(errors.New("x"))))
	assert.Equal(t, "exit status 2", Exit(2, nil).Error())
}

func TestFlags_ToConfigFlags(t *testing.T) {
	f := Flags{Concurrency: 3, Keywords: "!slow", FailFast: true, ListActions: true}
	cf := f.ToConfigFlags()
	assert.Equal(t, 3, cf.Concurrency)
	assert.Equal(t, "!slow", cf.Keywords)
	assert.True(t, cf.FailFast)
}
