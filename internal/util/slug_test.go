package util

import "testing"

func TestSlugifyDerivesURLSafeSlugs(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Cozy Winter Hat!", "cozy-winter-hat"},
		{"Aran Sweater", "aran-sweater"},
		{"  Fingerless   Mitts  ", "fingerless-mitts"},
		{"Möbius Cowl #2", "mbius-cowl-2"},
		{"lace-weight shawl", "lace-weight-shawl"},
		{"Hat! ", "hat"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.title); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

func TestSlugifyOutputAlphabet(t *testing.T) {
	slug := Slugify("A Very; Complicated (Title), with Punctuation?")
	for _, r := range slug {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			t.Fatalf("slug %q contains forbidden rune %q", slug, r)
		}
	}
}
