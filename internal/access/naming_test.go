package access

import "testing"

func TestFirstnameSurname(t *testing.T) {
	cases := []struct {
		person Person
		want   string
	}{
		{Person{FirstName: "Santtu", Surname: "Pajukanta"}, "santtu.pajukanta"},
		{Person{FirstName: "Äijä", Surname: "Öhman"}, "aija.ohman"},
		{Person{FirstName: "Anna Maria", Surname: "von Wright"}, "anna-maria.von-wright"},
		{Person{FirstName: "Zoë", Surname: ""}, "zoe"},
		{Person{FirstName: "", Surname: "O'Brien"}, "obrien"},
		{Person{FirstName: "Søren", Surname: "Ærø"}, "soren.aero"},
		{Person{FirstName: "Łukasz", Surname: "Weiß"}, "lukasz.weiss"},
		{Person{FirstName: "Đorđe", Surname: "Þórðarson"}, "dorde.thordarson"},
		{Person{}, ""},
	}
	for _, tc := range cases {
		if got := FirstnameSurname(tc.person); got != tc.want {
			t.Fatalf("FirstnameSurname(%+v)=%q, want %q", tc.person, got, tc.want)
		}
	}
}

func TestNickFallsBackToFirstName(t *testing.T) {
	if got := Nick(Person{FirstName: "Janne", Nick: "Japsu"}); got != "japsu" {
		t.Fatalf("unexpected nick %q", got)
	}
	if got := Nick(Person{FirstName: "Janne"}); got != "janne" {
		t.Fatalf("unexpected fallback %q", got)
	}
}
