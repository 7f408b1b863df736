package endpoint

import "testing"

func TestParseBarePath(t *testing.T) {
	s, err := Parse("/abs/path")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != Local || s.Root != "/abs/path" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestParseLocalPrefix(t *testing.T) {
	s, err := Parse("local:/abs/path")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != Local || s.Root != "/abs/path" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestParseSSHURL(t *testing.T) {
	s, err := Parse("ssh://deploy@example.com:2222/srv/data")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != Remote || s.User != "deploy" || s.Host != "example.com" || s.Port != 2222 || s.Root != "/srv/data" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestParseSCPStyle(t *testing.T) {
	s, err := Parse("deploy@example.com:data/project")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != Remote || s.User != "deploy" || s.Host != "example.com" || s.Port != 0 || s.Root != "data/project" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestFormatRoundTripsSSH(t *testing.T) {
	s := Spec{Kind: Remote, User: "deploy", Host: "example.com", Port: 2222, Root: "/srv/data"}
	if got := s.Format(); got != "ssh://deploy@example.com:2222/srv/data" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultStateDBPathIsDeterministic(t *testing.T) {
	left := Spec{Kind: Local, Root: "/home/user/docs"}
	right := Spec{Kind: Remote, User: "deploy", Host: "example.com", Root: "/srv/docs"}

	p1, err := DefaultStateDBPath(left, right)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := DefaultStateDBPath(left, right)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("expected deterministic path, got %q vs %q", p1, p2)
	}

	p3, err := DefaultStateDBPath(right, left)
	if err != nil {
		t.Fatal(err)
	}
	if p3 == p1 {
		t.Errorf("expected swapped pair to produce a different path")
	}
}

func TestParseEmptySCPUsernameRejected(t *testing.T) {
	if _, err := Parse("@host:path"); err == nil {
		t.Error("expected error for empty username")
	}
}
