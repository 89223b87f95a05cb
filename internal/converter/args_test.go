package converter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"bare flag", "--pretty-print", []string{"--pretty-print"}},
		{"flag value", "--base-font-size 12", []string{"--base-font-size", "12"}},
		{"quoted keeps whitespace", `--title "A  Tale of  Two"`, []string{"--title", "A  Tale of  Two"}},
		{"mixed", `--pretty-print --title "X Y" --margin-top 5 --no-images`,
			[]string{"--pretty-print", "--title", "X Y", "--margin-top", "5", "--no-images"}},
		{"empty quoted value", `--title ""`, []string{"--title", ""}},
		{"quoted dashes are a value", `--title "--not-a-flag"`, []string{"--title", "--not-a-flag"}},
		{"negative value", "--margin-left -1", []string{"--margin-left", "-1"}},
		{"extra whitespace", "  --a   1 \t --b  ", []string{"--a", "1", "--b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseArgs(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Argv(args))
		})
	}
}

func TestParseArgsRejects(t *testing.T) {
	for _, in := range []string{
		"stray",
		"--title a b",
		`--title "unterminated`,
		"--bad;flag",
		"---triple",
		`"--quoted-flag"`,
	} {
		_, err := ParseArgs(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrConfiguration), "input %q", in)
	}
}
