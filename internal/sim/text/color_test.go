package text

import "testing"

func TestColorize(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"&aGreen":       "§aGreen",
		"&LBold":        "§lBold",
		"a & b":         "a & b",
		"&#FF5555x":     "§x§f§f§5§5§5§5x",
		"{#00ff00}g":    "§x§0§0§f§f§0§0g",
		"<#0000FF>b&r!": "§x§0§0§0§0§f§fb§r!",
		"trailing&":     "trailing&",
	}
	for in, want := range cases {
		if got := Colorize(in); got != want {
			t.Fatalf("Colorize(%q)=%q want %q", in, got, want)
		}
	}
}

func TestStrip(t *testing.T) {
	if got := Strip(Colorize("&e&lCompass &#123456x")); got != "Compass x" {
		t.Fatalf("unexpected strip: %q", got)
	}
}
