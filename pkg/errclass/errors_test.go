package errclass_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/historify-project/historify/pkg/errclass"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := errclass.ErrChainBroken.WithMessage("unsigned non-tail log")
	assert.True(t, errors.Is(err, errclass.ErrChainBroken))
	assert.False(t, errors.Is(err, errclass.ErrConfig))

	wrapped := fmt.Errorf("closing: %w", err)
	assert.True(t, errors.Is(wrapped, errclass.ErrChainBroken))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{errclass.ErrIO.WithMessage("boom"), 1},
		{errclass.ErrRepoBusy, 1},
		{errclass.ErrConfig.WithMessage("bad key"), 2},
		{errclass.ErrNameInvalid, 2},
		{errclass.ErrChainBroken, 3},
		{errclass.ErrLogCorrupt, 3},
		{errclass.ErrBadSignature, 3},
		{errclass.ErrPasswordIncorrect, 3},
		{errclass.ErrIndexCorrupt, 4},
		{errors.New("plain"), 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, errclass.ExitCode(c.err), "for %v", c.err)
	}
}
