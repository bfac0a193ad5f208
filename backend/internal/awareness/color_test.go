package awareness

import "testing"

func TestColorForMatchesBrowser(t *testing.T) {
	cases := map[string]string{
		"alice":           "hsl(0, 70%, 55%)",
		"bob":             "hsl(157, 70%, 55%)",
		"carol":           "hsl(169, 70%, 55%)",
		"Priyanshu Kumar": "hsl(93, 70%, 55%)",
		"中文名字长一点的用户":      "hsl(327, 70%, 55%)",
	}
	for name, want := range cases {
		if got := ColorFor(name); got != want {
			t.Errorf("ColorFor(%q) = %s, want %s", name, got, want)
		}
	}
}

// 哈希为负时按 JS 的 ((h % 360) + 360) % 360 取色相，不能取绝对值
func TestColorForNegativeHash(t *testing.T) {
	const name = "Priyanshu Kumar" // 哈希为 -1197203307
	if got := ColorFor(name); got != "hsl(93, 70%, 55%)" {
		t.Fatalf("ColorFor(%q) = %s", name, got)
	}
	if got := ColorFor(name); got == "hsl(267, 70%, 55%)" {
		t.Fatalf("ColorFor(%q) used |hash| mod 360", name)
	}
}
