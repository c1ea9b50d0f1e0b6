package session

import "testing"

func TestNewRequiresUser(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for blank user")
	}
}

func TestToHeadersIncludesCoreFields(t *testing.T) {
	s, err := New("alice")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Catalog = "hive"
	s.Schema = "default"
	s.Source = "go-client"

	headers, err := s.ToHeaders()
	if err != nil {
		t.Fatalf("to headers: %v", err)
	}
	want := map[string]string{
		HeaderUser:          "alice",
		HeaderCatalog:       "hive",
		HeaderSchema:        "default",
		HeaderSource:        "go-client",
		HeaderTransactionID: NoTransaction,
	}
	for k, v := range want {
		if got := headers[k]; got != v {
			t.Fatalf("header %s = %q, want %q", k, got, v)
		}
	}
}

func TestSetPropertyRejectsEqualsInName(t *testing.T) {
	s, _ := New("alice")
	if err := s.SetProperty("bad=name", "x"); err == nil {
		t.Fatalf("expected error for '=' in property name")
	}
}

func TestSetExtraHeaderRejectsReservedName(t *testing.T) {
	s, _ := New("alice")
	if err := s.SetExtraHeader(HeaderUser, "bob"); err == nil {
		t.Fatalf("expected error overriding reserved header")
	}
}

func TestEncodedPropertiesPercentEncodesSpaceAsPercent20(t *testing.T) {
	s, _ := New("alice")
	if err := s.SetProperty("greeting", "hello world"); err != nil {
		t.Fatalf("set property: %v", err)
	}
	headers, err := s.ToHeaders()
	if err != nil {
		t.Fatalf("to headers: %v", err)
	}
	want := "greeting=hello%20world"
	if got := headers[HeaderSession]; got != want {
		t.Fatalf("session header = %q, want %q", got, want)
	}
}

func TestEncodedPropertiesAreSortedAndCommaJoined(t *testing.T) {
	s, _ := New("alice")
	_ = s.SetProperty("b", "2")
	_ = s.SetProperty("a", "hello,world")
	headers, err := s.ToHeaders()
	if err != nil {
		t.Fatalf("to headers: %v", err)
	}
	want := "a=hello%2Cworld,b=2"
	if got := headers[HeaderSession]; got != want {
		t.Fatalf("session header = %q, want %q", got, want)
	}
}

func TestApplySetSessionDecodesBeforeStorage(t *testing.T) {
	s, _ := New("alice")
	if err := s.ApplySetSession("greeting", "hello%20world"); err != nil {
		t.Fatalf("apply set session: %v", err)
	}
	if got := s.Properties()["greeting"]; got != "hello world" {
		t.Fatalf("stored property = %q, want decoded %q", got, "hello world")
	}

	headers, err := s.ToHeaders()
	if err != nil {
		t.Fatalf("to headers: %v", err)
	}
	if got := headers[HeaderSession]; got != "greeting=hello%20world" {
		t.Fatalf("round-tripped header = %q", got)
	}
}

func TestApplyClearSessionRemovesNamedProperty(t *testing.T) {
	s, _ := New("alice")
	_ = s.SetProperty("a", "1")
	_ = s.SetProperty("b", "2")
	s.ApplyClearSession([]string{"a"})
	props := s.Properties()
	if _, ok := props["a"]; ok {
		t.Fatalf("property 'a' should have been cleared")
	}
	if props["b"] != "2" {
		t.Fatalf("property 'b' should remain, got %q", props["b"])
	}
}

func TestApplyClearSessionOfAbsentNameIsNotError(t *testing.T) {
	s, _ := New("alice")
	s.ApplyClearSession([]string{"does-not-exist"})
}

func TestApplyAddedPrepareAccumulates(t *testing.T) {
	s, _ := New("alice")
	s.ApplyAddedPrepare("stmt1=SELECT+1")
	s.ApplyAddedPrepare("stmt2=SELECT+2")
	got := s.PreparedStatements()
	if len(got) != 2 || got[0] != "stmt1=SELECT+1" || got[1] != "stmt2=SELECT+2" {
		t.Fatalf("prepared statements = %v", got)
	}
	headers, err := s.ToHeaders()
	if err != nil {
		t.Fatalf("to headers: %v", err)
	}
	want := "stmt1=SELECT+1,stmt2=SELECT+2"
	if got := headers[HeaderPreparedStatement]; got != want {
		t.Fatalf("prepared statement header = %q, want %q", got, want)
	}
}
