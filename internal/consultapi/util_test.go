package consultapi

import "testing"

func TestFormatCents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{190, "$1.90"},
		{14060, "$140.60"},
		{-2850, "-$28.50"},
	}
	for _, tt := range tests {
		if got := FormatCents(tt.cents); got != tt.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	t.Parallel()
	if got, want := EscapeMarkdownV2("a_b.c-d"), `a\_b\.c\-d`; got != want {
		t.Errorf("EscapeMarkdownV2 = %q, want %q", got, want)
	}
}
